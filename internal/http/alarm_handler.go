package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"wisefido-alarm-stats/internal/aggregator"
	"wisefido-alarm-stats/internal/broadcast"
	"wisefido-alarm-stats/internal/models"
	"wisefido-alarm-stats/internal/normalizer"
	"wisefido-alarm-stats/internal/store"

	"go.uber.org/zap"
)

const (
	defaultRowLimit = 200
	maxRowLimit     = 2000
	maxEmitBody     = 64 << 10
)

// Ingest 事件写入口（服务事件循环）
type Ingest interface {
	Push(event models.AlarmEvent)
}

// AlarmHandler 报警查询/视图/导出接口
// 所有读取都来自 Hub 最近一次发布的值，不直接访问存储
type AlarmHandler struct {
	hub        *broadcast.Hub
	ingest     Ingest
	normalizer *normalizer.Normalizer
	now        func() time.Time
	logger     *zap.Logger
}

// NewAlarmHandler 创建报警接口；ingest 为 nil 时 dev emit 返回 404
func NewAlarmHandler(hub *broadcast.Hub, ingest Ingest, n *normalizer.Normalizer, logger *zap.Logger) *AlarmHandler {
	if n == nil {
		n = normalizer.New()
	}
	return &AlarmHandler{
		hub:        hub,
		ingest:     ingest,
		normalizer: n,
		now:        time.Now,
		logger:     logger,
	}
}

// Recent GET /api/alarms/recent?since=ISO
// 快照契约：直接返回事件数组（不包 Result）
func (h *AlarmHandler) Recent(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		// 未转义的 "+02:00" 在 query 中被解码成空格
		t, err := time.Parse(time.RFC3339Nano, strings.ReplaceAll(raw, " ", "+"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid since, expected ISO-8601 time"))
			return
		}
		since = t
	}
	writeJSON(w, http.StatusOK, store.Since(h.hub.Buffer(), since))
}

// Summary GET /api/alarms/summary?window=10m
func (h *AlarmHandler) Summary(w http.ResponseWriter, r *http.Request) {
	window := aggregator.RecentWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, Fail("invalid window"))
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, Ok(aggregator.Summarize(h.hub.Buffer(), h.now(), window)))
}

// RowsResult 表格数据
type RowsResult struct {
	Items []models.AlarmRow `json:"items"`
	Total int               `json:"total"`
}

// Rows GET /api/alarms/rows?limit=N（1..2000，默认 200）
func (h *AlarmHandler) Rows(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), defaultRowLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxRowLimit {
		limit = maxRowLimit
	}

	buffer := h.hub.Buffer()
	n := len(buffer)
	if n > limit {
		n = limit
	}
	rows := make([]models.AlarmRow, n)
	for i := 0; i < n; i++ {
		rows[i] = buffer[i].ToRow()
	}
	writeJSON(w, http.StatusOK, Ok(RowsResult{Items: rows, Total: len(buffer)}))
}

// Export GET /api/alarms/export
func (h *AlarmHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := GenerateAlarmExport(h.hub.Buffer())
	if err != nil {
		h.logger.Error("Failed to generate alarm export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("alarms-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Views GET /api/views
func (h *AlarmHandler) Views(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.hub.Views()))
}

// View GET /api/views/{name}
func (h *AlarmHandler) View(w http.ResponseWriter, r *http.Request, name string) {
	stream, ok := h.hub.Stream(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("unknown view: "+name))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stream.Current()))
}

// Emit POST /api/dev/emit：规范化请求体并写入（本地调试）
func (h *AlarmHandler) Emit(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := readBody(r, maxEmitBody)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("failed to read body"))
		return
	}
	event, err := h.normalizer.Normalize(body, "")
	if err != nil {
		h.logger.Warn("Rejected dev emit payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail("invalid alarm payload"))
		return
	}
	h.ingest.Push(event)
	writeJSON(w, http.StatusOK, Ok(event))
}
