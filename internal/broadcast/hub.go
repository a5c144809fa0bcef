package broadcast

import "wisefido-alarm-stats/internal/models"

// 流名称（对外契约）
const (
	StreamRecent             = "recent"
	StreamTotalActive        = "totalActive"
	StreamBySeverity10m      = "bySeverity10m"
	StreamBySeverity1h       = "bySeverity1h"
	StreamByCategory10m      = "byCategory10m"
	StreamByCategory1h       = "byCategory1h"
	StreamHourly12           = "hourly12"
	StreamHourly12BySeverity = "hourly12BySeverity"
	StreamCalendarMonth      = "calendarMonth"
	StreamLast60m            = "last60m"
	StreamWeekly7            = "weekly7"
	StreamBuffer             = "buffer"
)

var streamNames = []string{
	StreamRecent,
	StreamTotalActive,
	StreamBySeverity10m,
	StreamBySeverity1h,
	StreamByCategory10m,
	StreamByCategory1h,
	StreamHourly12,
	StreamHourly12BySeverity,
	StreamCalendarMonth,
	StreamLast60m,
	StreamWeekly7,
	StreamBuffer,
}

// Hub 每个派生视图及原始缓冲区各一个独立可订阅的当前值流
type Hub struct {
	views   *Value[models.Views]
	streams map[string]*Value[any]
}

// NewHub 创建 Hub，初始值为空视图
func NewHub() *Hub {
	empty := models.Views{
		Recent:        []models.AlarmEvent{},
		Category10m:   []models.CategoryCount{},
		Category1h:    []models.CategoryCount{},
		CalendarMonth: []models.CalendarDay{},
	}
	h := &Hub{
		views:   NewValue(empty),
		streams: make(map[string]*Value[any], len(streamNames)),
	}
	for name, val := range project(empty, []models.AlarmEvent{}) {
		h.streams[name] = NewValue[any](val)
	}
	return h
}

// Publish 发布一次重算结果；buffer 必须是存储快照的副本
func (h *Hub) Publish(views models.Views, buffer []models.AlarmEvent) {
	h.views.Set(views)
	for name, val := range project(views, buffer) {
		h.streams[name].Set(val)
	}
}

// Views 全部视图的当前值
func (h *Hub) Views() models.Views {
	return h.views.Current()
}

// SubscribeViews 订阅全部视图
func (h *Hub) SubscribeViews() (<-chan models.Views, func()) {
	return h.views.Subscribe()
}

// Stream 按名称取流
func (h *Hub) Stream(name string) (*Value[any], bool) {
	s, ok := h.streams[name]
	return s, ok
}

// Buffer 原始缓冲区的当前值
func (h *Hub) Buffer() []models.AlarmEvent {
	buf, _ := h.streams[StreamBuffer].Current().([]models.AlarmEvent)
	return buf
}

// Names 全部流名称（固定顺序）
func (h *Hub) Names() []string {
	out := make([]string, len(streamNames))
	copy(out, streamNames)
	return out
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.views.Close()
	for _, s := range h.streams {
		s.Close()
	}
}

func project(v models.Views, buffer []models.AlarmEvent) map[string]any {
	return map[string]any{
		StreamRecent:             v.Recent,
		StreamTotalActive:        v.TotalActive,
		StreamBySeverity10m:      v.Severity10m,
		StreamBySeverity1h:       v.Severity1h,
		StreamByCategory10m:      v.Category10m,
		StreamByCategory1h:       v.Category1h,
		StreamHourly12:           v.Hourly12,
		StreamHourly12BySeverity: v.Hourly12BySeverity,
		StreamCalendarMonth:      v.CalendarMonth,
		StreamLast60m:            v.Last60m,
		StreamWeekly7:            v.Weekly7,
		StreamBuffer:             buffer,
	}
}
