package models

import (
	"strings"
	"time"
)

// Level 报警级别
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelWarn     Level = "WARN"
	LevelInfo     Level = "INFO"
)

// ParseLevel 归一化报警级别：大写，WARNING 视为 WARN，未知级别一律 INFO
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return LevelCritical
	case "WARN", "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// LevelFromPriority 设备优先级转换：8+ CRITICAL，4+ WARN，其余 INFO
func LevelFromPriority(p int) Level {
	switch {
	case p >= 8:
		return LevelCritical
	case p >= 4:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// AlarmEvent 规范化后的报警事件（聚合引擎的唯一数据单元）
type AlarmEvent struct {
	ID       string `json:"id"`
	Level    Level  `json:"level"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Message  string `json:"message"`

	// Timestamp 源头上报的原始时间（可能缺失或格式错误，仅供展示）
	Timestamp string `json:"timestamp"`
	// ArrivedAt 所有时间窗口与排序使用的时间，规范化时确定，之后不再变更
	ArrivedAt time.Time `json:"arrivedAt"`
	// CreatedAt 后端分配的创建时间（如有）
	CreatedAt string `json:"createdAt,omitempty"`

	System string `json:"system,omitempty"`
	Device string `json:"device,omitempty"`
	Point  string `json:"point,omitempty"`
}

// Category 报警类别
func (e AlarmEvent) Category() string {
	return CategoryOf(e.Type)
}

// typeToCategory 类型 -> 类别映射表（固定）
var typeToCategory = map[string]string{
	"POWER_OUTAGE": "Power",
	"FAN_FAILURE":  "Device",
	"FAN_RPM_LOW":  "Device",
	"SENSOR_FAULT": "Sensor",
	"HEARTBEAT":    "System",
	"INFO":         "System",
}

// CategoryOther 未映射类型的类别
const CategoryOther = "Other"

// CategoryOf 根据类型代码查找类别，未映射返回 "Other"
func CategoryOf(eventType string) string {
	if c, ok := typeToCategory[eventType]; ok {
		return c
	}
	return CategoryOther
}
