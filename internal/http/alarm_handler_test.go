package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wisefido-alarm-stats/internal/aggregator"
	"wisefido-alarm-stats/internal/broadcast"
	"wisefido-alarm-stats/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 5, 20, 10, 30, 0, 0, time.UTC)

type fakeIngest struct {
	mu     sync.Mutex
	events []models.AlarmEvent
}

func (f *fakeIngest) Push(e models.AlarmEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func testBuffer() []models.AlarmEvent {
	return []models.AlarmEvent{
		{ID: "c1", Level: models.LevelCritical, Type: "POWER_OUTAGE", Location: "Main", System: "Power", ArrivedAt: testNow.Add(-time.Minute)},
		{ID: "w1", Level: models.LevelWarn, Type: "FAN_FAILURE", Location: "Roof", ArrivedAt: testNow.Add(-5 * time.Minute)},
		{ID: "i1", Level: models.LevelInfo, Type: "HEARTBEAT", Location: "Roof", ArrivedAt: testNow.Add(-30 * time.Minute)},
	}
}

func newTestRouter(t *testing.T, devEmit bool) (*Router, *broadcast.Hub, *fakeIngest) {
	t.Helper()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)

	buffer := testBuffer()
	hub.Publish(aggregator.Compute(buffer, testNow), buffer)

	ingest := &fakeIngest{}
	alarms := NewAlarmHandler(hub, ingest, nil, zap.NewNop())
	alarms.now = func() time.Time { return testNow }

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))

	r := NewRouter(zap.NewNop())
	r.RegisterAlarmRoutes(alarms, devEmit)
	r.RegisterStreamRoutes(NewStreamHandler(hub, zap.NewNop()))
	r.RegisterOpsRoutes(func() HealthStatus {
		return HealthStatus{Status: "ok", Connection: "connected", Buffer: len(hub.Buffer())}
	}, reg)
	return r, hub, ingest
}

func doRequest(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeResult[T any](t *testing.T, rec *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestRecent_ReturnsEventsSince(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/api/alarms/recent?since=2024-05-20T10:25:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.AlarmEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "c1", events[0].ID)
	assert.Equal(t, "w1", events[1].ID)
}

func TestRecent_SinceWithUnescapedOffset(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	// 12:25+02:00 == 10:25Z
	rec := doRequest(r, http.MethodGet, "/api/alarms/recent?since=2024-05-20T12:25:00+02:00", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []models.AlarmEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "w1", events[1].ID)
}

func TestRecent_WithoutSinceReturnsAll(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/api/alarms/recent", nil)
	var events []models.AlarmEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 3)
}

func TestRecent_InvalidSince(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/api/alarms/recent?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ResultError, decodeResult[any](t, rec).Code)
}

func TestSummary(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/api/alarms/summary?window=10m", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult[aggregator.Summary](t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, 2, res.Result.TotalActive)
	assert.Equal(t, models.SeverityCounts{Critical: 1, Warn: 1}, res.Result.BySeverity)
	assert.Equal(t, map[string]int{"Main": 1, "Roof": 1}, res.Result.ByLocation)

	rec = doRequest(r, http.MethodGet, "/api/alarms/summary?window=-1m", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRows_LimitIsClamped(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	res := decodeResult[RowsResult](t, doRequest(r, http.MethodGet, "/api/alarms/rows?limit=2", nil))
	require.Len(t, res.Result.Items, 2)
	assert.Equal(t, 3, res.Result.Total)
	assert.Equal(t, "c1", res.Result.Items[0].ID)
	assert.Equal(t, "Power", res.Result.Items[0].System)
	assert.Equal(t, "2024-05-20T10:29:00Z", res.Result.Items[0].CreatedAt)

	res = decodeResult[RowsResult](t, doRequest(r, http.MethodGet, "/api/alarms/rows?limit=0", nil))
	assert.Len(t, res.Result.Items, 1)

	res = decodeResult[RowsResult](t, doRequest(r, http.MethodGet, "/api/alarms/rows", nil))
	assert.Len(t, res.Result.Items, 3)
}

func TestViews(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	res := decodeResult[models.Views](t, doRequest(r, http.MethodGet, "/api/views", nil))
	assert.Equal(t, 2, res.Result.TotalActive)
	assert.Equal(t, 3, res.Result.Last60m)

	rec := doRequest(r, http.MethodGet, "/api/views/bySeverity1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sev := decodeResult[models.SeverityCounts](t, rec)
	assert.Equal(t, models.SeverityCounts{Critical: 1, Warn: 1, Info: 1}, sev.Result)

	rec = doRequest(r, http.MethodGet, "/api/views/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExport_ProducesWorkbook(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/api/alarms/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "alarms-20240520-103000.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(alarmSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, AlarmExportHeader, rows[0])
	assert.Equal(t, "c1", rows[1][0])
	assert.Equal(t, "CRITICAL", rows[1][2])
	assert.Equal(t, "Power", rows[1][4])
}

func TestEmit_DisabledByDefault(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodPost, "/api/dev/emit", []byte(`{"id":"x"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmit_NormalizesAndPushes(t *testing.T) {
	r, _, ingest := newTestRouter(t, true)

	rec := doRequest(r, http.MethodPost, "/api/dev/emit", []byte(`{"id":"dev-1","level":"warning","type":"SENSOR_FAULT"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingest.events, 1)
	assert.Equal(t, "dev-1", ingest.events[0].ID)
	assert.Equal(t, models.LevelWarn, ingest.events[0].Level)

	rec = doRequest(r, http.MethodPost, "/api/dev/emit", []byte(`{broken`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ingest.events, 1)

	rec = doRequest(r, http.MethodGet, "/api/dev/emit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthStatus{Status: "ok", Connection: "connected", Buffer: 3}, health)

	rec = doRequest(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_total"))
}

func TestMethodNotAllowed(t *testing.T) {
	r, _, _ := newTestRouter(t, false)

	rec := doRequest(r, http.MethodPost, "/api/views", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
