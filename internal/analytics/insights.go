package analytics

import (
	"fmt"
	"time"

	"dosetrack/internal/medication"
)

// Insight is a plain finding surfaced to the dashboard
type Insight struct {
	Type        string `json:"type"`     // pattern, milestone, alert
	Category    string `json:"category"` // hour, weekday, streak, rate
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // low, medium, high
}

// minSampleSize is how many scheduled doses a bucket needs before its rate
// is worth reporting.
const minSampleSize = 3

// patternFloor is the rate below which a bucket counts as a weak spot.
const patternFloor = 70.0

// Insights derives dashboard findings from a record set: weak hours, weak
// weekdays, and streak milestones.
func Insights(records []medication.Record) []Insight {
	var insights []Insight

	if hour, ok := worstHour(records); ok {
		insights = append(insights, Insight{
			Type:     "pattern",
			Category: "hour",
			Title:    "Doses slipping at a regular time",
			Description: fmt.Sprintf("You tend to miss doses scheduled around %s (%.0f%% taken).",
				formatHour(hour.Hour), hour.RatePercent),
			Priority: "medium",
		})
	}

	if wd, ok := worstWeekday(records); ok {
		insights = append(insights, Insight{
			Type:     "pattern",
			Category: "weekday",
			Title:    "A weak day in the week",
			Description: fmt.Sprintf("%ss are your hardest day (%.0f%% taken).",
				wd.Weekday, wd.RatePercent),
			Priority: "low",
		})
	}

	if _, longest := Streaks(records); longest >= 7 {
		insights = append(insights, Insight{
			Type:        "milestone",
			Category:    "streak",
			Title:       "Strong adherence streak",
			Description: fmt.Sprintf("Best run so far: %d consecutive days with every dose taken.", longest),
			Priority:    "low",
		})
	}

	return insights
}

func worstHour(records []medication.Record) (HourPattern, bool) {
	var worst HourPattern
	found := false
	for _, p := range ByHour(records) {
		if p.Scheduled < minSampleSize || p.RatePercent >= patternFloor {
			continue
		}
		if !found || p.RatePercent < worst.RatePercent {
			worst = p
			found = true
		}
	}
	return worst, found
}

func worstWeekday(records []medication.Record) (WeekdayPattern, bool) {
	var worst WeekdayPattern
	found := false
	for _, p := range ByWeekday(records) {
		if p.Scheduled < minSampleSize || p.RatePercent >= patternFloor {
			continue
		}
		if !found || p.RatePercent < worst.RatePercent {
			worst = p
			found = true
		}
	}
	return worst, found
}

func formatHour(hour int) string {
	return time.Date(2000, 1, 1, hour, 0, 0, 0, time.UTC).Format("3 PM")
}
