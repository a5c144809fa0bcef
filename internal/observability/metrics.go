package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "wisefido"
	subsystem = "alarm_stats"
)

var connectionStates = []string{"disconnected", "connecting", "connected"}

// Metrics 报警统计服务的 Prometheus 指标
// 所有方法对 nil 接收者安全（未启用指标时直接传 nil）
type Metrics struct {
	eventsAdmitted   *prometheus.CounterVec
	eventsDuplicate  *prometheus.CounterVec
	eventsPruned     prometheus.Counter
	persistFailures  prometheus.Counter
	bufferEvents     prometheus.Gauge
	recomputeLatency prometheus.Histogram

	messagesReceived prometheus.Counter
	messagesDropped  *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec

	snapshotLoads *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_admitted_total",
			Help:      "Alarm events admitted into the buffer by source",
		}, []string{"source"}),
		eventsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_duplicate_total",
			Help:      "Alarm events discarded because their id was already seen",
		}, []string{"source"}),
		eventsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_pruned_total",
			Help:      "Alarm events removed by retention or cap pruning",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_failures_total",
			Help:      "Failed writes of the alarm buffer to durable storage",
		}),
		bufferEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_events",
			Help:      "Alarm events currently retained",
		}),
		recomputeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recompute_duration_seconds",
			Help:      "Time spent recomputing derived views",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mqtt_messages_total",
			Help:      "Messages received on the live channel",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mqtt_messages_dropped_total",
			Help:      "Live channel messages dropped by reason",
		}, []string{"reason"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mqtt_connection_state",
			Help:      "1 for the current live channel state, 0 otherwise",
		}, []string{"state"}),
		snapshotLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_loads_total",
			Help:      "Snapshot loads by kind and result",
		}, []string{"kind", "result"}),
	}

	collectors := []prometheus.Collector{
		m.eventsAdmitted, m.eventsDuplicate, m.eventsPruned, m.persistFailures,
		m.bufferEvents, m.recomputeLatency, m.messagesReceived, m.messagesDropped,
		m.connectionState, m.snapshotLoads,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	m.ConnectionState("disconnected")
	return m, nil
}

// Admitted 新增事件
func (m *Metrics) Admitted(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsAdmitted.WithLabelValues(source).Add(float64(n))
}

// Duplicates 重复事件
func (m *Metrics) Duplicates(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDuplicate.WithLabelValues(source).Add(float64(n))
}

// Pruned 裁剪事件
func (m *Metrics) Pruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsPruned.Add(float64(n))
}

// PersistFailed 持久化失败
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// Recomputed 一次视图重算
func (m *Metrics) Recomputed(bufferSize int, took time.Duration) {
	if m == nil {
		return
	}
	m.bufferEvents.Set(float64(bufferSize))
	m.recomputeLatency.Observe(took.Seconds())
}

// ConnectionState 实时通道状态
func (m *Metrics) ConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// MessageReceived 收到实时消息
func (m *Metrics) MessageReceived(string) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// MessageDropped 丢弃实时消息
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// SnapshotLoaded 快照加载结果
func (m *Metrics) SnapshotLoaded(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.snapshotLoads.WithLabelValues(kind, result).Inc()
}
