package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-alarm-stats/internal/models"
	"wisefido-alarm-stats/internal/normalizer"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultRecentWindow = 10 * time.Minute
	RecentPath          = "/api/alarms/recent"
)

// Sink 快照批次的去向（服务事件循环的 Hydrate）
type Sink interface {
	Hydrate(events []models.AlarmEvent)
}

// Options 快照加载配置
type Options struct {
	BaseURL      string
	Token        string
	RecentWindow time.Duration
	Timeout      time.Duration
	DisableRetry bool
	Normalizer   *normalizer.Normalizer
	Clock        func() time.Time
}

// Loader 历史快照加载器
//   - recent: 最近 RecentWindow（默认 10 分钟）
//   - month: 本月 1 日 00:00 UTC 起
//
// 两种加载各自只成功一次，失败后可再次调用
type Loader struct {
	httpClient *resty.Client
	normalizer *normalizer.Normalizer
	logger     *zap.Logger
	now        func() time.Time
	window     time.Duration

	recent onceOnSuccess
	month  onceOnSuccess
}

// NewLoader 创建快照加载器
func NewLoader(opts Options, logger *zap.Logger) *Loader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if !opts.DisableRetry {
		client.
			SetRetryCount(3).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(5 * time.Second)
	}
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	l := &Loader{
		httpClient: client,
		normalizer: opts.Normalizer,
		logger:     logger,
		now:        opts.Clock,
		window:     opts.RecentWindow,
	}
	if l.normalizer == nil {
		l.normalizer = normalizer.New()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.window <= 0 {
		l.window = DefaultRecentWindow
	}
	return l
}

// LoadSince 拉取 since 以来的事件并逐条规范化（坏记录跳过）
func (l *Loader) LoadSince(ctx context.Context, since time.Time) ([]models.AlarmEvent, error) {
	resp, err := l.httpClient.R().
		SetContext(ctx).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		Get(RecentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to call snapshot source: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot source returned status %d", resp.StatusCode())
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	events := make([]models.AlarmEvent, 0, len(rows))
	for i, row := range rows {
		ev, err := l.normalizer.Normalize(row, "")
		if err != nil {
			l.logger.Warn("Skipping malformed snapshot record",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		events = append(events, ev)
	}

	l.logger.Info("Loaded alarm snapshot",
		zap.Time("since", since),
		zap.Int("rows", len(rows)),
		zap.Int("events", len(events)),
	)
	return events, nil
}

// LoadRecent 加载最近窗口；已成功加载过则跳过
func (l *Loader) LoadRecent(ctx context.Context, sink Sink) error {
	return l.load(ctx, &l.recent, "recent", l.now().Add(-l.window), sink)
}

// LoadMonth 加载本月；已成功加载过则跳过
func (l *Loader) LoadMonth(ctx context.Context, sink Sink) error {
	return l.load(ctx, &l.month, "month", MonthStart(l.now()), sink)
}

func (l *Loader) load(ctx context.Context, once *onceOnSuccess, kind string, since time.Time, sink Sink) error {
	ran, err := once.Do(func() error {
		events, err := l.LoadSince(ctx, since)
		if err != nil {
			return err
		}
		sink.Hydrate(events)
		return nil
	})
	if !ran {
		l.logger.Debug("Snapshot already loaded", zap.String("kind", kind))
		return nil
	}
	if err != nil {
		l.logger.Warn("Snapshot load failed",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}
	return nil
}

// MonthStart 当月 1 日 00:00 UTC
func MonthStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type onceOnSuccess struct {
	mu   sync.Mutex
	done bool
}

func (o *onceOnSuccess) Do(f func() error) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return false, nil
	}
	if err := f(); err != nil {
		return true, err
	}
	o.done = true
	return true, nil
}
