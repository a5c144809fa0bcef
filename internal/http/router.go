package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("took", time.Since(start)),
	)
}

// RegisterAlarmRoutes 报警查询、视图与导出
func (r *Router) RegisterAlarmRoutes(a *AlarmHandler, devEmit bool) {
	r.Handle("/api/alarms/recent", get(a.Recent))
	r.Handle("/api/alarms/summary", get(a.Summary))
	r.Handle("/api/alarms/rows", get(a.Rows))
	r.Handle("/api/alarms/export", get(a.Export))

	r.Handle("/api/views", get(a.Views))
	r.Handle("/api/views/", get(func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimPrefix(req.URL.Path, "/api/views/")
		if name == "" || strings.Contains(name, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		a.View(w, req, name)
	}))

	if devEmit {
		r.Handle("/api/dev/emit", func(w http.ResponseWriter, req *http.Request) {
			if !allowMethod(w, req, http.MethodPost) {
				return
			}
			a.Emit(w, req)
		})
	}
}

// RegisterStreamRoutes WebSocket 推送
func (r *Router) RegisterStreamRoutes(s *StreamHandler) {
	r.Handle("/ws/views", get(s.Views))
}

// HealthStatus 健康检查信息
type HealthStatus struct {
	Status     string `json:"status"`
	Connection string `json:"connection"`
	Buffer     int    `json:"buffer"`
}

// RegisterOpsRoutes /healthz 与 /metrics
func (r *Router) RegisterOpsRoutes(health func() HealthStatus, gatherer prometheus.Gatherer) {
	r.Handle("/healthz", get(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, health())
	}))
	if gatherer != nil {
		r.HandleHandler("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !allowMethod(w, req, http.MethodGet) {
			return
		}
		h(w, req)
	}
}
