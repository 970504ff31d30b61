// Package analytics aggregates persisted activities and capture records into
// productivity reports: totals, per-day breakdowns, category distribution,
// hourly averages, a trend direction, and rule-based insights.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

// Store is the subset of the persistence contract the engine reads from.
type Store interface {
	ActivitiesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.Activity, error)
	CapturesBetween(ctx context.Context, start, end time.Time, ownerID string) ([]models.CaptureRecord, error)
	GetGoals(ctx context.Context, ownerID string) (*models.Goals, error)
}

// Timeframe selects the report window ending now.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

// Window returns the [start, end) interval for the timeframe, ending at now.
func (t Timeframe) Window(now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	switch t {
	case TimeframeDay:
		return now.Add(-24 * time.Hour), now, nil
	case TimeframeWeek:
		return now.Add(-7 * 24 * time.Hour), now, nil
	case TimeframeMonth:
		return now.Add(-30 * 24 * time.Hour), now, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown timeframe %q", t)
	}
}

// Trend direction values.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// minPeakSamples is the minimum number of captures an hour slot needs
// before it can be named the peak hour.
const minPeakSamples = 3

// trendStableBand is the absolute score difference (0-100 scale) below
// which the two halves count as equal.
const trendStableBand = 5.0

// DayBreakdown is one calendar day of the report.
type DayBreakdown struct {
	Day        string `json:"day"` // YYYY-MM-DD
	Sessions   int    `json:"sessions"`
	DurationMs int64  `json:"duration_ms"`
}

// CategoryShare is one category's slice of total tracked time.
type CategoryShare struct {
	Category models.Category `json:"category"`
	Percent  float64         `json:"percent"`
}

// HourlySlot is the average productivity score for one hour of the day.
type HourlySlot struct {
	Hour    int     `json:"hour"`
	Avg     float64 `json:"avg_score"`
	Samples int     `json:"samples"`
}

// GoalProgress compares tracked hours against the owner's targets.
type GoalProgress struct {
	TrackedHours float64 `json:"tracked_hours"`
	TargetHours  float64 `json:"target_hours"`
	Percent      float64 `json:"percent"`
}

// Report is the full analytics output for one window.
type Report struct {
	Timeframe         Timeframe       `json:"timeframe"`
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	TotalSessions     int             `json:"total_sessions"`
	CompletedSessions int             `json:"completed_sessions"`
	TotalDurationMs   int64           `json:"total_duration_ms"`
	AvgDurationMs     float64         `json:"avg_duration_ms"`
	PerDay            []DayBreakdown  `json:"per_day"`
	Distribution      []CategoryShare `json:"distribution"`
	Hourly            []HourlySlot    `json:"hourly"`
	PeakHour          *int            `json:"peak_hour,omitempty"`
	Trend             string          `json:"trend"`
	Insights          []string        `json:"insights"`
	Recommendations   []string        `json:"recommendations"`
	GoalProgress      *GoalProgress   `json:"goal_progress,omitempty"`
}

// Engine computes reports from the store.
type Engine struct {
	store   Store
	ownerID string
	logger  logging.Logger
}

func NewEngine(store Store, ownerID string, logger logging.Logger) *Engine {
	return &Engine{store: store, ownerID: ownerID, logger: logger}
}

// Generate builds the report for the timeframe ending at now.
func (e *Engine) Generate(ctx context.Context, tf Timeframe, now time.Time) (*Report, error) {
	start, end, err := tf.Window(now)
	if err != nil {
		return nil, err
	}

	activities, err := e.store.ActivitiesBetween(ctx, start, end, e.ownerID)
	if err != nil {
		return nil, err
	}
	captures, err := e.store.CapturesBetween(ctx, start, end, e.ownerID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Timeframe: tf,
		Start:     start,
		End:       end,
		Trend:     TrendStable,
	}

	e.aggregateSessions(report, activities)
	report.Hourly, report.PeakHour = hourlyProductivity(captures)
	report.Trend = trend(dailyScores(captures))
	e.goalProgress(ctx, report, tf)
	report.Insights, report.Recommendations = applyRules(report)

	return report, nil
}

func (e *Engine) aggregateSessions(report *Report, activities []models.Activity) {
	report.TotalSessions = len(activities)

	perDay := map[string]*DayBreakdown{}
	perCategory := map[models.Category]int64{}
	for _, a := range activities {
		if a.Status == models.ActivityCompleted {
			report.CompletedSessions++
		}
		report.TotalDurationMs += a.DurationMs

		day := a.StartTime.UTC().Format("2006-01-02")
		d, ok := perDay[day]
		if !ok {
			d = &DayBreakdown{Day: day}
			perDay[day] = d
		}
		d.Sessions++
		d.DurationMs += a.DurationMs

		perCategory[a.Category] += a.DurationMs
	}

	if report.CompletedSessions > 0 {
		var completedMs int64
		for _, a := range activities {
			if a.Status == models.ActivityCompleted {
				completedMs += a.DurationMs
			}
		}
		report.AvgDurationMs = float64(completedMs) / float64(report.CompletedSessions)
	}

	for _, d := range perDay {
		report.PerDay = append(report.PerDay, *d)
	}
	sort.Slice(report.PerDay, func(i, j int) bool { return report.PerDay[i].Day < report.PerDay[j].Day })

	if report.TotalDurationMs > 0 {
		for _, c := range models.Categories {
			ms := perCategory[c]
			if ms == 0 {
				continue
			}
			report.Distribution = append(report.Distribution, CategoryShare{
				Category: c,
				Percent:  100 * float64(ms) / float64(report.TotalDurationMs),
			})
		}
	}
}

// score maps a productivity indicator to a 0-100 value.
func score(indicator string) float64 {
	switch indicator {
	case "productive":
		return 100
	case "distracting":
		return 0
	default:
		return 50
	}
}

// hourlyProductivity averages capture scores per hour of day. A slot needs
// at least minPeakSamples captures to be eligible as the peak.
func hourlyProductivity(captures []models.CaptureRecord) ([]HourlySlot, *int) {
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, c := range captures {
		h := c.Timestamp.UTC().Hour()
		sums[h] += score(c.Productive)
		counts[h]++
	}

	slots := []HourlySlot{}
	var peak *int
	var peakAvg float64
	for h := 0; h < 24; h++ {
		n := counts[h]
		if n == 0 {
			continue
		}
		avg := sums[h] / float64(n)
		slots = append(slots, HourlySlot{Hour: h, Avg: avg, Samples: n})
		if n >= minPeakSamples && (peak == nil || avg > peakAvg) {
			hh := h
			peak = &hh
			peakAvg = avg
		}
	}
	return slots, peak
}

// dailyScores reduces captures to one chronological productivity score per
// day.
func dailyScores(captures []models.CaptureRecord) []float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, c := range captures {
		day := c.Timestamp.UTC().Format("2006-01-02")
		sums[day] += score(c.Productive)
		counts[day]++
	}

	days := make([]string, 0, len(sums))
	for d := range sums {
		days = append(days, d)
	}
	sort.Strings(days)

	scores := make([]float64, 0, len(days))
	for _, d := range days {
		scores = append(scores, sums[d]/float64(counts[d]))
	}
	return scores
}

// trend compares the mean of the first half of the series against the mean
// of the second half. A difference under trendStableBand counts as stable.
func trend(scores []float64) string {
	if len(scores) < 2 {
		return TrendStable
	}

	mid := len(scores) / 2
	first := mean(scores[:mid])
	second := mean(scores[mid:])

	diff := second - first
	switch {
	case diff >= trendStableBand:
		return TrendImproving
	case diff <= -trendStableBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (e *Engine) goalProgress(ctx context.Context, report *Report, tf Timeframe) {
	goals, err := e.store.GetGoals(ctx, e.ownerID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			e.logger.Warn(ctx, "goals read failed", "error", err)
		}
		return
	}

	var target float64
	switch tf {
	case TimeframeDay:
		target = goals.DailyHours
	case TimeframeWeek:
		target = goals.WeeklyHours
	case TimeframeMonth:
		target = goals.MonthlyHours
	}
	if target <= 0 {
		return
	}

	tracked := float64(report.TotalDurationMs) / float64(time.Hour.Milliseconds())
	report.GoalProgress = &GoalProgress{
		TrackedHours: tracked,
		TargetHours:  target,
		Percent:      100 * tracked / target,
	}
}
