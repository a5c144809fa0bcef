package normalizer

import (
	"fmt"
	"strings"
	"time"

	"wisefido-alarm-stats/internal/models"
)

const (
	defaultLocation = "Unknown"
	defaultType     = "GENERIC"
	fallbackTarget  = "alarm"
)

// Normalizer 把不同来源的原始记录转换为规范 AlarmEvent（纯转换，无副作用）
type Normalizer struct {
	now func() time.Time
}

// Option Normalizer 选项
type Option func(*Normalizer)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New 创建 Normalizer
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize 解析并规范化一条记录，JSON 无法解析时返回错误
func (n *Normalizer) Normalize(payload []byte, topic string) (models.AlarmEvent, error) {
	raw, err := ParseRaw(payload)
	if err != nil {
		return models.AlarmEvent{}, fmt.Errorf("failed to unmarshal alarm payload: %w", err)
	}
	return n.NormalizeRaw(raw, topic), nil
}

// NormalizeRaw 规范化已解析的记录
func (n *Normalizer) NormalizeRaw(raw RawEvent, topic string) models.AlarmEvent {
	value := raw.deviceValue()
	target := normalizePath(firstNonBlank(raw.Target, raw.Path, topic))
	segs := splitPath(target)

	timestamp := rawText(raw.Timestamp)
	createdAt := rawText(raw.CreatedAt)
	arrivedAt := n.resolveArrival(rawText(raw.ArrivedAt), createdAt, timestamp)

	event := models.AlarmEvent{
		Level:     resolveLevel(raw.Level, value),
		Type:      resolveType(raw, value, segs),
		Message:   firstNonBlank(raw.Message, value.Message, shortFromPath(segs)),
		Timestamp: timestamp,
		CreatedAt: createdAt,
		ArrivedAt: arrivedAt,
		System:    firstNonBlank(raw.System, segAt(segs, 1)),
		Device:    firstNonBlank(raw.Device, segAt(segs, 2)),
		Point:     firstNonBlank(raw.Point, pointFromPath(segs)),
	}
	event.Location = resolveLocation(raw, value, segs)

	event.ID = rawText(raw.ID)
	if event.ID == "" {
		// 无 id 时用 路径@到达时间 合成；只有输入完全相同（含上报时间）才会得到相同 id
		base := target
		if base == "" {
			base = fallbackTarget
		}
		event.ID = base + "@" + arrivedAt.UTC().Format(time.RFC3339Nano)
	}

	return event
}

// IsAlarmLike 判断一条消息是否为报警
//   - 带 id 或 level 的规范/快照格式总是报警
//   - Target 或 topic 以 /ALARM 结尾
//   - 或 Value.Message 非空、Value.Priority 为数字
func IsAlarmLike(raw RawEvent, topic string) bool {
	if rawText(raw.ID) != "" || strings.TrimSpace(raw.Level) != "" {
		return true
	}
	candidate := firstNonBlank(raw.Target, topic)
	if candidate != "" && strings.HasSuffix(strings.ToUpper(normalizePath(candidate)), "/ALARM") {
		return true
	}
	value := raw.deviceValue()
	if strings.TrimSpace(value.Message) != "" {
		return true
	}
	_, ok := value.priority()
	return ok
}

// resolveArrival 到达时间回退链：arrivedAt -> createdAt -> timestamp -> 当前时间
func (n *Normalizer) resolveArrival(candidates ...string) time.Time {
	for _, c := range candidates {
		if t, ok := parseTime(c); ok {
			return t
		}
	}
	return n.now()
}

func resolveLevel(level string, value DeviceValue) models.Level {
	if strings.TrimSpace(level) != "" {
		return models.ParseLevel(level)
	}
	if p, ok := value.priority(); ok {
		return models.LevelFromPriority(p)
	}
	return models.LevelInfo
}

func resolveType(raw RawEvent, value DeviceValue, segs []string) string {
	if t := strings.TrimSpace(raw.Type); t != "" {
		return t
	}
	return firstNonBlank(
		strings.ToUpper(typeFromPath(segs)),
		value.Message,
		raw.TagInfo,
		raw.ValueType,
		defaultType,
	)
}

// resolveLocation 优先使用简短的显式名称，路径形式的值放到最后
func resolveLocation(raw RawEvent, value DeviceValue, segs []string) string {
	explicit := []string{raw.Location, value.TargetName, value.Location}
	for _, c := range explicit {
		c = strings.TrimSpace(c)
		if c != "" && !isPathLike(c) {
			return c
		}
	}
	if d := deviceFromPath(segs); d != "" {
		return d
	}
	for _, c := range explicit {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return defaultLocation
}

func isPathLike(s string) bool {
	return strings.ContainsAny(s, `/\`)
}

func normalizePath(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
}

// splitPath 按 / 拆分并去掉空段
func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func segAt(segs []string, i int) string {
	if i < len(segs) {
		return segs[i]
	}
	return ""
}

// pointFromPath 第 4 段；只有 3 段时取第 3 段
func pointFromPath(segs []string) string {
	switch {
	case len(segs) >= 4:
		return segs[3]
	case len(segs) == 3:
		return segs[2]
	default:
		return ""
	}
}

// typeFromPath 取倒数第二段（.../FAN_FAILURE/Alarm）
func typeFromPath(segs []string) string {
	switch n := len(segs); {
	case n >= 2:
		return segs[n-2]
	case n == 1:
		return segs[0]
	default:
		return ""
	}
}

func deviceFromPath(segs []string) string {
	switch n := len(segs); {
	case n >= 3:
		return segs[n-3]
	case n == 2:
		return segs[0]
	default:
		return ""
	}
}

// shortFromPath 最后三段
func shortFromPath(segs []string) string {
	n := len(segs)
	if n > 3 {
		segs = segs[n-3:]
	}
	return strings.Join(segs, "/")
}

func firstNonBlank(xs ...string) string {
	for _, x := range xs {
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
	}
	return ""
}
