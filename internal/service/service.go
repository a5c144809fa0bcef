package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"wisefido-alarm-stats/internal/aggregator"
	"wisefido-alarm-stats/internal/broadcast"
	"wisefido-alarm-stats/internal/config"
	"wisefido-alarm-stats/internal/consumer"
	httpapi "wisefido-alarm-stats/internal/http"
	"wisefido-alarm-stats/internal/models"
	"wisefido-alarm-stats/internal/normalizer"
	"wisefido-alarm-stats/internal/observability"
	"wisefido-alarm-stats/internal/snapshot"
	"wisefido-alarm-stats/internal/store"
	"wisefido-alarm-stats/owl-common/database"
	rediscommon "wisefido-alarm-stats/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const taskQueueSize = 1024

// task 在事件循环上执行的一次存储操作
type task func(ctx context.Context)

// AlarmStatsService 报警统计服务
// 所有存储变更都以闭包形式进入同一个 channel，由唯一的循环 goroutine 顺序执行
type AlarmStatsService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client

	store    *store.EventStore
	hub      *broadcast.Hub
	metrics  *observability.Metrics
	registry *prometheus.Registry
	consumer *consumer.MQTTConsumer
	loader   *snapshot.Loader
	router   *httpapi.Router
	server   *http.Server

	tasks    chan task
	quit     chan struct{}
	loopDone chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// Option 服务选项（测试注入）
type Option func(*options)

type options struct {
	kv       store.KVStore
	registry *prometheus.Registry
	factory  consumer.ClientFactory
	clock    func() time.Time
}

// WithKVStore 使用指定的持久化存储，跳过 STORE_BACKEND 选择
func WithKVStore(kv store.KVStore) Option {
	return func(o *options) {
		o.kv = kv
	}
}

// WithRegistry 指定 Prometheus registry（/metrics 使用同一个）
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithClientFactory 指定 MQTT 客户端工厂
func WithClientFactory(f consumer.ClientFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// NewAlarmStatsService 创建报警统计服务
func NewAlarmStatsService(cfg *config.Config, logger *zap.Logger, opts ...Option) (*AlarmStatsService, error) {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	s := &AlarmStatsService{
		config:   cfg,
		logger:   logger,
		hub:      broadcast.NewHub(),
		registry: o.registry,
		tasks:    make(chan task, taskQueueSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	metrics, err := observability.New(o.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.metrics = metrics

	kv := o.kv
	if kv == nil {
		kv, err = s.openKVStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	s.store = store.New(kv, logger,
		store.WithClock(o.clock),
		store.WithRetention(cfg.Store.Retention),
		store.WithCap(cfg.Store.Cap),
		store.WithPersistKey(cfg.Store.PersistKey),
		store.WithRecorder(metrics),
		store.WithListener(s.recompute),
	)

	n := normalizer.New(normalizer.WithClock(o.clock))

	if cfg.Live.Enabled {
		s.consumer = consumer.NewMQTTConsumer(consumer.Options{
			MQTT:           cfg.MQTT,
			Topic:          cfg.Live.Topic,
			ReconnectDelay: cfg.Live.ReconnectDelay,
			Factory:        o.factory,
			Normalizer:     n,
			Recorder:       metrics,
		}, s, logger)
	}

	if cfg.Snapshot.Enabled {
		s.loader = snapshot.NewLoader(snapshot.Options{
			BaseURL:      cfg.Snapshot.BaseURL,
			Token:        cfg.Snapshot.Token,
			RecentWindow: cfg.Snapshot.RecentWindow,
			Timeout:      cfg.Snapshot.Timeout,
			Normalizer:   n,
			Clock:        o.clock,
		}, logger)
	}

	var ingest httpapi.Ingest
	if cfg.HTTP.DevEmitEnabled {
		ingest = s
	}
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterAlarmRoutes(httpapi.NewAlarmHandler(s.hub, ingest, n, logger), cfg.HTTP.DevEmitEnabled)
	s.router.RegisterStreamRoutes(httpapi.NewStreamHandler(s.hub, logger))
	s.router.RegisterOpsRoutes(s.Health, o.registry)

	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// openKVStore 根据 STORE_BACKEND 打开持久化存储
func (s *AlarmStatsService) openKVStore(cfg *config.Config) (store.KVStore, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			_ = rediscommon.Close(client)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisClient = client
		return store.NewRedisKVStore(client), nil

	case config.BackendPostgres:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		kv := store.NewPostgresKVStore(db, cfg.Store.KVTable)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		s.db = db
		return kv, nil

	case config.BackendMemory:
		s.logger.Warn("Using in-memory alarm buffer, events will not survive a restart")
		return store.NewMemoryKVStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// Start 启动服务，阻塞直到 ctx 结束或 HTTP 服务出错
func (s *AlarmStatsService) Start(ctx context.Context) error {
	s.logger.Info("Starting alarm stats service",
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("live_enabled", s.consumer != nil),
		zap.Bool("snapshot_enabled", s.loader != nil),
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	s.startOnce.Do(func() {
		go s.loop(ctx)
	})

	// 恢复必须先于任何写入；channel 保证顺序
	s.enqueue(func(ctx context.Context) {
		s.store.Init(ctx)
	})

	if s.consumer != nil {
		s.consumer.Connect(ctx)
	}

	if s.loader != nil {
		go s.loadSnapshots(ctx)
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop 停止服务
func (s *AlarmStatsService) Stop(ctx context.Context) error {
	var errs []error
	s.stopOnce.Do(func() {
		if s.consumer != nil {
			s.consumer.Disconnect()
		}

		close(s.quit)
		s.startOnce.Do(func() {
			// 从未启动
			close(s.loopDone)
		})
		<-s.loopDone

		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
		}
		s.hub.Close()

		if s.redisClient != nil {
			if err := rediscommon.Close(s.redisClient); err != nil {
				errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
			}
		}
		if err := database.Close(s.db); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		s.logger.Info("Alarm stats service stopped")
	})
	return errors.Join(errs...)
}

// Push 写入一条实时事件（任意 goroutine 可调用）
func (s *AlarmStatsService) Push(event models.AlarmEvent) {
	s.enqueue(func(ctx context.Context) {
		s.store.Push(ctx, event)
	})
}

// Hydrate 合并一批快照事件（任意 goroutine 可调用）
func (s *AlarmStatsService) Hydrate(events []models.AlarmEvent) {
	s.enqueue(func(ctx context.Context) {
		s.store.Hydrate(ctx, events)
	})
}

// Hub 视图广播
func (s *AlarmStatsService) Hub() *broadcast.Hub {
	return s.hub
}

// Handler HTTP 路由
func (s *AlarmStatsService) Handler() http.Handler {
	return s.router
}

// Health 健康检查
func (s *AlarmStatsService) Health() httpapi.HealthStatus {
	connection := "disabled"
	if s.consumer != nil {
		connection = s.consumer.State().String()
	}
	return httpapi.HealthStatus{
		Status:     "ok",
		Connection: connection,
		Buffer:     len(s.hub.Buffer()),
	}
}

// enqueue 提交到事件循环；服务停止后丢弃
func (s *AlarmStatsService) enqueue(t task) {
	select {
	case s.tasks <- t:
	case <-s.quit:
	}
}

func (s *AlarmStatsService) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.Store.RecomputeInterval)
	defer ticker.Stop()

	// 存储操作不随 Start 的 ctx 取消，停止前的写入仍要持久化
	opCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-s.quit:
			s.drain(opCtx)
			return
		case t := <-s.tasks:
			t(opCtx)
		case <-ticker.C:
			s.store.Tick(opCtx)
		}
	}
}

// drain 执行停止前已排队的操作
func (s *AlarmStatsService) drain(ctx context.Context) {
	for {
		select {
		case t := <-s.tasks:
			t(ctx)
		default:
			return
		}
	}
}

// recompute 存储监听器：每次变更后重算视图并发布（运行在事件循环上）
func (s *AlarmStatsService) recompute(buffer []models.AlarmEvent, now time.Time) {
	start := time.Now()
	views := aggregator.Compute(buffer, now)
	s.hub.Publish(views, buffer)
	s.metrics.Recomputed(len(buffer), time.Since(start))
}

// loadSnapshots 先加载最近窗口，再加载本月；各自只在成功后标记完成
func (s *AlarmStatsService) loadSnapshots(ctx context.Context) {
	err := s.loader.LoadRecent(ctx, s)
	s.metrics.SnapshotLoaded("recent", err)

	err = s.loader.LoadMonth(ctx, s)
	s.metrics.SnapshotLoaded("month", err)
}
