package aggregator

import (
	"sort"
	"time"

	"wisefido-alarm-stats/internal/models"
)

const (
	RecentWindow = 10 * time.Minute
	HourWindow   = time.Hour

	hourlyBuckets = 12
	weeklyBuckets = 7
)

// Compute 从完整缓冲区重算全部派生视图（纯函数）
// 输入：
//   - events: 按 ArrivedAt 降序的缓冲区
//   - now: 当前时间，其时区决定小时/日/月分桶
//
// 所有窗口只看 ArrivedAt；ArrivedAt 为零值的事件不参与任何视图
func Compute(events []models.AlarmEvent, now time.Time) models.Views {
	views := models.Views{
		Recent:      make([]models.AlarmEvent, 0),
		Category10m: make([]models.CategoryCount, 0),
		Category1h:  make([]models.CategoryCount, 0),
		ComputedAt:  now,
	}

	cat10m := newCategoryCounter()
	cat1h := newCategoryCounter()

	hourly := hourlyBoundaries(now)
	weekly := weeklyBoundaries(now)
	monthStart, monthEnd, days := monthRange(now)

	views.Hourly12 = models.HourlySeries{
		Labels: hourlyLabels(hourly),
		Counts: make([]int, hourlyBuckets),
	}
	views.Hourly12BySeverity = models.HourlySeveritySeries{
		Labels:   hourlyLabels(hourly),
		Critical: make([]int, hourlyBuckets),
		Warn:     make([]int, hourlyBuckets),
		Info:     make([]int, hourlyBuckets),
	}
	views.Weekly7 = models.WeeklySeries{
		Labels: weeklyLabels(weekly),
		Totals: make([]int, weeklyBuckets),
	}
	calendar := make([]int, days)

	for _, e := range events {
		if e.ArrivedAt.IsZero() {
			continue
		}
		age := now.Sub(e.ArrivedAt)

		if age <= RecentWindow {
			views.Recent = append(views.Recent, e)
			views.Severity10m.Add(e.Level)
			cat10m.add(e.Category())
		}
		if age <= HourWindow {
			views.Severity1h.Add(e.Level)
			cat1h.add(e.Category())
			views.Last60m++
		}

		if i := bucketIndex(hourly, e.ArrivedAt); i >= 0 {
			views.Hourly12.Counts[i]++
			switch e.Level {
			case models.LevelCritical:
				views.Hourly12BySeverity.Critical[i]++
			case models.LevelWarn:
				views.Hourly12BySeverity.Warn[i]++
			default:
				views.Hourly12BySeverity.Info[i]++
			}
		}

		if i := bucketIndex(weekly, e.ArrivedAt); i >= 0 {
			views.Weekly7.Totals[i]++
		}

		if !e.ArrivedAt.Before(monthStart) && e.ArrivedAt.Before(monthEnd) {
			calendar[e.ArrivedAt.In(now.Location()).Day()-1]++
		}
	}

	views.TotalActive = len(views.Recent)
	views.Category10m = cat10m.result()
	views.Category1h = cat1h.result()

	views.CalendarMonth = make([]models.CalendarDay, days)
	for d := 0; d < days; d++ {
		views.CalendarMonth[d] = models.CalendarDay{
			Date:  monthStart.AddDate(0, 0, d).Format("2006-01-02"),
			Count: calendar[d],
		}
	}

	return views
}

// Summary 任意窗口内的汇总（HTTP summary 接口使用）
type Summary struct {
	Window      string                `json:"window"`
	TotalActive int                   `json:"totalActive"`
	BySeverity  models.SeverityCounts `json:"bySeverity"`
	ByLocation  map[string]int        `json:"byLocation"`
}

// Summarize 统计 now-window 以内的事件（边界包含）
func Summarize(events []models.AlarmEvent, now time.Time, window time.Duration) Summary {
	s := Summary{
		Window:     window.String(),
		ByLocation: make(map[string]int),
	}
	for _, e := range events {
		if e.ArrivedAt.IsZero() || now.Sub(e.ArrivedAt) > window {
			continue
		}
		s.TotalActive++
		s.BySeverity.Add(e.Level)
		s.ByLocation[e.Location]++
	}
	return s
}

// bucketIndex 半开区间 [b[i], b[i+1])，不在任何桶内返回 -1
func bucketIndex(boundaries []time.Time, t time.Time) int {
	n := len(boundaries)
	if n < 2 || t.Before(boundaries[0]) || !t.Before(boundaries[n-1]) {
		return -1
	}
	// 第一个 > t 的边界，其前一个桶即为所在桶
	j := sort.Search(n, func(i int) bool { return boundaries[i].After(t) })
	return j - 1
}

// hourlyBoundaries 从 now-11h 所在整点开始的 13 个边界
func hourlyBoundaries(now time.Time) []time.Time {
	loc := now.Location()
	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
	first := hourStart.Add(-(hourlyBuckets - 1) * time.Hour)

	b := make([]time.Time, hourlyBuckets+1)
	for i := range b {
		b[i] = first.Add(time.Duration(i) * time.Hour)
	}
	return b
}

func hourlyLabels(boundaries []time.Time) []string {
	labels := make([]string, hourlyBuckets)
	for i := 0; i < hourlyBuckets; i++ {
		labels[i] = boundaries[i].Format("15") + ":00"
	}
	return labels
}

// weeklyBoundaries 最近 7 天（含今天）的本地零点 + 明天零点
func weeklyBoundaries(now time.Time) []time.Time {
	today := midnight(now)
	first := today.AddDate(0, 0, -(weeklyBuckets - 1))

	b := make([]time.Time, weeklyBuckets+1)
	for i := range b {
		b[i] = first.AddDate(0, 0, i)
	}
	return b
}

func weeklyLabels(boundaries []time.Time) []string {
	labels := make([]string, weeklyBuckets)
	for i := 0; i < weeklyBuckets; i++ {
		labels[i] = boundaries[i].Weekday().String()[:3]
	}
	return labels
}

// monthRange 当前本地月份 [月初, 下月初) 及天数
func monthRange(now time.Time) (time.Time, time.Time, int) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 1, 0)
	days := end.AddDate(0, 0, -1).Day()
	return start, end, days
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// categoryCounter 按首次出现顺序计数
type categoryCounter struct {
	order  []string
	counts map[string]int
}

func newCategoryCounter() *categoryCounter {
	return &categoryCounter{counts: make(map[string]int)}
}

func (c *categoryCounter) add(name string) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

func (c *categoryCounter) result() []models.CategoryCount {
	out := make([]models.CategoryCount, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, models.CategoryCount{Name: name, Count: c.counts[name]})
	}
	return out
}
