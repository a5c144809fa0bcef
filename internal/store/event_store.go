package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"wisefido-alarm-stats/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultRetention  = 35 * 24 * time.Hour
	DefaultCap        = 10000
	DefaultPersistKey = "alarm-buffer-v1"

	persistTimeout = 3 * time.Second
)

// Listener 每次变更（以及定时 Tick）后收到完整的缓冲区快照
type Listener func(snapshot []models.AlarmEvent, now time.Time)

// Recorder 存储层统计钩子（由 observability 实现）
type Recorder interface {
	Admitted(source string, n int)
	Duplicates(source string, n int)
	Pruned(n int)
	PersistFailed()
}

type noopRecorder struct{}

func (noopRecorder) Admitted(string, int)   {}
func (noopRecorder) Duplicates(string, int) {}
func (noopRecorder) Pruned(int)             {}
func (noopRecorder) PersistFailed()         {}

// EventStore 报警事件环形缓冲区（唯一数据源）
//   - 按 id 去重，先到者保留
//   - 按 ArrivedAt 降序
//   - 保留期（默认 35 天）+ 数量上限（默认 10000）
//   - 每次变更持久化到 KVStore
//
// EventStore 不做并发控制，只能由单一所有者 goroutine 调用
type EventStore struct {
	kv         KVStore
	logger     *zap.Logger
	now        func() time.Time
	retention  time.Duration
	capacity   int
	persistKey string
	listener   Listener
	recorder   Recorder

	buffer []models.AlarmEvent
	seen   map[string]struct{}
}

// Option EventStore 选项
type Option func(*EventStore)

func WithClock(now func() time.Time) Option {
	return func(s *EventStore) { s.now = now }
}

func WithRetention(d time.Duration) Option {
	return func(s *EventStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithCap(n int) Option {
	return func(s *EventStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithPersistKey(key string) Option {
	return func(s *EventStore) {
		if key != "" {
			s.persistKey = key
		}
	}
}

func WithListener(l Listener) Option {
	return func(s *EventStore) { s.listener = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *EventStore) {
		if r != nil {
			s.recorder = r
		}
	}
}

// New 创建事件存储
func New(kv KVStore, logger *zap.Logger, opts ...Option) *EventStore {
	s := &EventStore{
		kv:         kv,
		logger:     logger,
		now:        time.Now,
		retention:  DefaultRetention,
		capacity:   DefaultCap,
		persistKey: DefaultPersistKey,
		recorder:   noopRecorder{},
		seen:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init 启动时从持久化存储恢复（数据损坏或不存在视为空）
func (s *EventStore) Init(ctx context.Context) {
	now := s.now()
	events := s.load(ctx)

	sortDesc(events)
	s.buffer = s.buffer[:0]
	s.seen = make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		if _, dup := s.seen[e.ID]; dup {
			continue
		}
		s.seen[e.ID] = struct{}{}
		s.buffer = append(s.buffer, e)
	}

	if dropped := s.prune(now); dropped > 0 {
		s.persist(ctx)
	}

	s.logger.Info("Event store restored",
		zap.Int("events", len(s.buffer)),
		zap.String("key", s.persistKey),
	)
	s.notify(now)
}

// Hydrate 合并一批快照事件，已见过的 id 直接丢弃（先到者保留）
// 已存在的事件保持相对顺序，时间相同时排在新事件之前。返回新增数量
func (s *EventStore) Hydrate(ctx context.Context, events []models.AlarmEvent) int {
	now := s.now()

	fresh := make([]models.AlarmEvent, 0, len(events))
	duplicates := 0
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		if _, ok := s.seen[e.ID]; ok {
			duplicates++
			continue
		}
		s.seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	sortDesc(fresh)

	s.buffer = mergeDesc(s.buffer, fresh)
	s.recorder.Admitted("hydrate", len(fresh))
	s.recorder.Duplicates("hydrate", duplicates)

	s.prune(now)
	s.persist(ctx)
	s.notify(now)

	s.logger.Debug("Hydrated snapshot batch",
		zap.Int("received", len(events)),
		zap.Int("admitted", len(fresh)),
		zap.Int("duplicates", duplicates),
		zap.Int("buffer_size", len(s.buffer)),
	)
	return len(fresh)
}

// Push 写入一条实时事件，重复 id 为空操作（重连重放幂等）
func (s *EventStore) Push(ctx context.Context, e models.AlarmEvent) bool {
	if e.ID == "" {
		s.logger.Warn("Dropping alarm event without id")
		return false
	}
	if _, ok := s.seen[e.ID]; ok {
		s.recorder.Duplicates("push", 1)
		return false
	}

	now := s.now()
	// 找到第一个不晚于 e 的位置，插在其前面
	idx := sort.Search(len(s.buffer), func(i int) bool {
		return !s.buffer[i].ArrivedAt.After(e.ArrivedAt)
	})
	s.buffer = append(s.buffer, models.AlarmEvent{})
	copy(s.buffer[idx+1:], s.buffer[idx:])
	s.buffer[idx] = e
	s.seen[e.ID] = struct{}{}
	s.recorder.Admitted("push", 1)

	s.prune(now)
	s.persist(ctx)
	s.notify(now)
	return true
}

// Tick 定时触发：按当前时间裁剪并重算派生视图
func (s *EventStore) Tick(ctx context.Context) {
	now := s.now()
	if dropped := s.prune(now); dropped > 0 {
		s.persist(ctx)
	}
	s.notify(now)
}

// Len 当前保留数量
func (s *EventStore) Len() int {
	return len(s.buffer)
}

// Snapshot 返回缓冲区副本（降序）
func (s *EventStore) Snapshot() []models.AlarmEvent {
	out := make([]models.AlarmEvent, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Since 返回 ArrivedAt >= since 的事件（降序）
func (s *EventStore) Since(since time.Time) []models.AlarmEvent {
	return Since(s.buffer, since)
}

// Since 在降序切片上截取 ArrivedAt >= since 的前缀副本
func Since(events []models.AlarmEvent, since time.Time) []models.AlarmEvent {
	n := sort.Search(len(events), func(i int) bool {
		return events[i].ArrivedAt.Before(since)
	})
	out := make([]models.AlarmEvent, n)
	copy(out, events[:n])
	return out
}

// prune 两阶段裁剪：先按保留期（边界包含），再按上限保留最新的 capacity 条
func (s *EventStore) prune(now time.Time) int {
	kept := make([]models.AlarmEvent, 0, len(s.buffer))
	dropped := 0
	for _, e := range s.buffer {
		if e.ArrivedAt.IsZero() || now.Sub(e.ArrivedAt) > s.retention {
			delete(s.seen, e.ID)
			dropped++
			continue
		}
		kept = append(kept, e)
	}

	if len(kept) > s.capacity {
		for _, e := range kept[s.capacity:] {
			delete(s.seen, e.ID)
			dropped++
		}
		kept = kept[:s.capacity]
	}

	s.buffer = kept
	if dropped > 0 {
		s.recorder.Pruned(dropped)
	}
	return dropped
}

func (s *EventStore) load(ctx context.Context) []models.AlarmEvent {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	raw, err := s.kv.Get(ctx, s.persistKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Failed to read persisted alarm buffer, starting empty",
				zap.String("key", s.persistKey),
				zap.Error(err),
			)
		}
		return nil
	}

	var events []models.AlarmEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		s.logger.Warn("Persisted alarm buffer is corrupt, starting empty",
			zap.String("key", s.persistKey),
			zap.Error(err),
		)
		return nil
	}
	return events
}

func (s *EventStore) persist(ctx context.Context) {
	toSave := s.buffer
	if len(toSave) > s.capacity {
		toSave = toSave[:s.capacity]
	}
	data, err := json.Marshal(toSave)
	if err != nil {
		s.recorder.PersistFailed()
		s.logger.Warn("Failed to marshal alarm buffer", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, s.persistKey, string(data), 0); err != nil {
		s.recorder.PersistFailed()
		s.logger.Warn("Failed to persist alarm buffer",
			zap.String("key", s.persistKey),
			zap.Int("events", len(toSave)),
			zap.Error(err),
		)
	}
}

func (s *EventStore) notify(now time.Time) {
	if s.listener != nil {
		s.listener(s.Snapshot(), now)
	}
}

func sortDesc(events []models.AlarmEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ArrivedAt.After(events[j].ArrivedAt)
	})
}

// mergeDesc 合并两个降序切片，时间相同时 existing 在前
func mergeDesc(existing, fresh []models.AlarmEvent) []models.AlarmEvent {
	if len(fresh) == 0 {
		return existing
	}
	out := make([]models.AlarmEvent, 0, len(existing)+len(fresh))
	i, j := 0, 0
	for i < len(existing) && j < len(fresh) {
		if !existing[i].ArrivedAt.Before(fresh[j].ArrivedAt) {
			out = append(out, existing[i])
			i++
		} else {
			out = append(out, fresh[j])
			j++
		}
	}
	out = append(out, existing[i:]...)
	out = append(out, fresh[j:]...)
	return out
}
