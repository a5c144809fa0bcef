package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawEvent 原始报警记录（兼容三种来源格式）
//   - UI 规范格式：id/level/type/location/message/timestamp/arrivedAt/createdAt
//   - 快照行格式：id/system/device/point/location/level/message/createdAt
//   - 设备 MQTT 格式：Target/TagInfo/ValueType/Value{Message,Priority,TargetName,Location}
//
// encoding/json 字段名匹配不区分大小写，Target 与 target 落在同一字段
type RawEvent struct {
	ID       json.RawMessage `json:"id"`
	Level    string          `json:"level"`
	Type     string          `json:"type"`
	Location string          `json:"location"`
	Message  string          `json:"message"`

	Timestamp json.RawMessage `json:"timestamp"`
	ArrivedAt json.RawMessage `json:"arrivedAt"`
	CreatedAt json.RawMessage `json:"createdAt"`

	Target string `json:"target"`
	Path   string `json:"path"`
	System string `json:"system"`
	Device string `json:"device"`
	Point  string `json:"point"`

	TagInfo   string          `json:"tagInfo"`
	ValueType string          `json:"valueType"`
	Value     json.RawMessage `json:"value"`
}

// DeviceValue 设备消息里的 Value 对象
type DeviceValue struct {
	Message    string          `json:"message"`
	Priority   json.RawMessage `json:"priority"`
	TargetName string          `json:"targetName"`
	Location   string          `json:"location"`
}

// ParseRaw 解析一条原始记录，非 JSON 对象返回错误
func ParseRaw(payload []byte) (RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return RawEvent{}, err
	}
	return raw, nil
}

// deviceValue Value 不是对象时（例如遥测数值）返回零值
func (r RawEvent) deviceValue() DeviceValue {
	var v DeviceValue
	trimmed := bytes.TrimSpace(r.Value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return v
	}
	_ = json.Unmarshal(trimmed, &v)
	return v
}

// priority Value.Priority 为数字时返回
func (v DeviceValue) priority() (int, bool) {
	trimmed := bytes.TrimSpace(v.Priority)
	if len(trimmed) == 0 || trimmed[0] == '"' || string(trimmed) == "null" {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// rawText 把字符串或数字形式的 JSON 值转为文本
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return ""
	}
	return string(trimmed)
}

// maxEpochMillis 9999-12-31T23:59:59Z，更大的数字不是合法时间
const maxEpochMillis = 253402300799999

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime 解析 ISO-8601 字符串或 epoch 数字（>=1e12 视为毫秒，否则为秒）
// 无时区的字符串按 UTC 处理
func parseTime(text string) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 || n > maxEpochMillis {
			return time.Time{}, false
		}
		if n >= 1e12 {
			return time.UnixMilli(int64(n)).UTC(), true
		}
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
