package models

import "time"

// SeverityCounts 按级别计数
type SeverityCounts struct {
	Critical int `json:"CRITICAL"`
	Warn     int `json:"WARN"`
	Info     int `json:"INFO"`
}

// Add 按级别累加一次，未知级别计入 INFO
func (s *SeverityCounts) Add(level Level) {
	switch level {
	case LevelCritical:
		s.Critical++
	case LevelWarn:
		s.Warn++
	default:
		s.Info++
	}
}

// Total 三个级别合计
func (s SeverityCounts) Total() int {
	return s.Critical + s.Warn + s.Info
}

// CategoryCount 类别计数
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// HourlySeries 最近 12 小时每小时总数
type HourlySeries struct {
	Labels []string `json:"labels"`
	Counts []int    `json:"counts"`
}

// HourlySeveritySeries 最近 12 小时每小时按级别计数
type HourlySeveritySeries struct {
	Labels   []string `json:"labels"`
	Critical []int    `json:"critical"`
	Warn     []int    `json:"warn"`
	Info     []int    `json:"info"`
}

// CalendarDay 当月某一天的计数
type CalendarDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// WeeklySeries 最近 7 天按天合计（标签为星期）
type WeeklySeries struct {
	Labels []string `json:"labels"`
	Totals []int    `json:"totals"`
}

// Views 指标引擎一次重算的全部派生视图
type Views struct {
	Recent             []AlarmEvent         `json:"recent"`
	TotalActive        int                  `json:"totalActive"`
	Severity10m        SeverityCounts       `json:"bySeverity10m"`
	Severity1h         SeverityCounts       `json:"bySeverity1h"`
	Category10m        []CategoryCount      `json:"byCategory10m"`
	Category1h         []CategoryCount      `json:"byCategory1h"`
	Hourly12           HourlySeries         `json:"hourly12"`
	Hourly12BySeverity HourlySeveritySeries `json:"hourly12BySeverity"`
	CalendarMonth      []CalendarDay        `json:"calendarMonth"`
	Weekly7            WeeklySeries         `json:"weekly7"`
	Last60m            int                  `json:"last60m"`
	ComputedAt         time.Time            `json:"computedAt"`
}

// AlarmRow 表格行（system/device/point 从路径拆出）
type AlarmRow struct {
	ID        string `json:"id"`
	System    string `json:"system"`
	Device    string `json:"device"`
	Point     string `json:"point"`
	Location  string `json:"location"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// ToRow 转为表格行，createdAt 使用到达时间
func (e AlarmEvent) ToRow() AlarmRow {
	created := ""
	if !e.ArrivedAt.IsZero() {
		created = e.ArrivedAt.UTC().Format(time.RFC3339Nano)
	}
	return AlarmRow{
		ID:        e.ID,
		System:    e.System,
		Device:    e.Device,
		Point:     e.Point,
		Location:  e.Location,
		Level:     string(e.Level),
		Message:   e.Message,
		CreatedAt: created,
	}
}
