// Package analytics derives adherence metrics from a ledger record set.
// Everything here is a pure function over already-fetched records; the
// heavy lifting the original dashboards pushed into per-row queries is
// ordinary iteration and aggregation instead.
package analytics

import (
	"math"
	"sort"
	"time"

	"dosetrack/internal/medication"
)

// Snapshot is the aggregate adherence view over a window
type Snapshot struct {
	ScheduledCount    int     `json:"scheduled_count"`
	TakenCount        int     `json:"taken_count"`
	MissedCount       int     `json:"missed_count"`
	SkippedCount      int     `json:"skipped_count"`
	RatePercent       float64 `json:"rate_percent"`
	CurrentStreakDays int     `json:"current_streak_days"`
	LongestStreakDays int     `json:"longest_streak_days"`
}

// HourPattern is adherence grouped by hour of day
type HourPattern struct {
	Hour        int     `json:"hour"`
	Scheduled   int     `json:"scheduled"`
	Taken       int     `json:"taken"`
	Missed      int     `json:"missed"`
	RatePercent float64 `json:"rate_percent"`
}

// WeekdayPattern is adherence grouped by day of week
type WeekdayPattern struct {
	Weekday     time.Weekday `json:"weekday"`
	Scheduled   int          `json:"scheduled"`
	Taken       int          `json:"taken"`
	Missed      int          `json:"missed"`
	RatePercent float64      `json:"rate_percent"`
}

// ComputeSnapshot aggregates the records falling inside [start, end).
// An empty window yields a zero-valued snapshot, never an error.
func ComputeSnapshot(records []medication.Record, start, end time.Time) Snapshot {
	windowed := filter(records, start, end)

	var snap Snapshot
	for _, rec := range windowed {
		snap.ScheduledCount++
		switch rec.Status {
		case medication.StatusTaken:
			snap.TakenCount++
		case medication.StatusMissed:
			snap.MissedCount++
		case medication.StatusSkipped:
			snap.SkippedCount++
		}
	}

	snap.RatePercent = Rate(snap.TakenCount, snap.ScheduledCount)
	snap.CurrentStreakDays, snap.LongestStreakDays = Streaks(windowed)

	return snap
}

// Rate is taken/scheduled as a percentage rounded to 2 decimals, 0 when
// nothing was scheduled.
func Rate(taken, scheduled int) float64 {
	if scheduled == 0 {
		return 0
	}
	return math.Round(float64(taken)/float64(scheduled)*10000) / 100
}

// Streaks returns the current and longest runs of consecutive calendar days
// where every record of the day is taken. The walk moves backward from the
// most recent day with data; days with zero scheduled doses are skipped, not
// counted — they neither break nor extend a streak.
func Streaks(records []medication.Record) (current, longest int) {
	days := dayRuns(records)
	if len(days) == 0 {
		return 0, 0
	}

	// Current streak: walk backward from the newest day with data.
	for i := len(days) - 1; i >= 0; i-- {
		if !days[i].perfect {
			break
		}
		current++
	}

	run := 0
	for _, d := range days {
		if d.perfect {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}

	return current, longest
}

// ByHour groups adherence by the hour of day a dose was scheduled, used to
// surface patterns like "you tend to miss evening doses".
func ByHour(records []medication.Record) []HourPattern {
	buckets := make(map[int]*HourPattern)
	for _, rec := range records {
		hour := rec.ScheduledAt.Hour()
		b, ok := buckets[hour]
		if !ok {
			b = &HourPattern{Hour: hour}
			buckets[hour] = b
		}
		b.Scheduled++
		switch rec.Status {
		case medication.StatusTaken:
			b.Taken++
		case medication.StatusMissed:
			b.Missed++
		}
	}

	patterns := make([]HourPattern, 0, len(buckets))
	for _, b := range buckets {
		b.RatePercent = Rate(b.Taken, b.Scheduled)
		patterns = append(patterns, *b)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Hour < patterns[j].Hour })
	return patterns
}

// ByWeekday groups adherence by day of week.
func ByWeekday(records []medication.Record) []WeekdayPattern {
	buckets := make(map[time.Weekday]*WeekdayPattern)
	for _, rec := range records {
		wd := rec.ScheduledAt.Weekday()
		b, ok := buckets[wd]
		if !ok {
			b = &WeekdayPattern{Weekday: wd}
			buckets[wd] = b
		}
		b.Scheduled++
		switch rec.Status {
		case medication.StatusTaken:
			b.Taken++
		case medication.StatusMissed:
			b.Missed++
		}
	}

	patterns := make([]WeekdayPattern, 0, len(buckets))
	for _, b := range buckets {
		b.RatePercent = Rate(b.Taken, b.Scheduled)
		patterns = append(patterns, *b)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Weekday < patterns[j].Weekday })
	return patterns
}

// RateBetween computes the adherence rate of the records scheduled in
// [start, end).
func RateBetween(records []medication.Record, start, end time.Time) float64 {
	taken, scheduled := 0, 0
	for _, rec := range filter(records, start, end) {
		scheduled++
		if rec.Status == medication.StatusTaken {
			taken++
		}
	}
	return Rate(taken, scheduled)
}

// MissedRate is the share of records in [start, end) that ended missed.
func MissedRate(records []medication.Record, start, end time.Time) float64 {
	missed, scheduled := 0, 0
	for _, rec := range filter(records, start, end) {
		scheduled++
		if rec.Status == medication.StatusMissed {
			missed++
		}
	}
	return Rate(missed, scheduled)
}

// MeanDelay is the average lateness of taken doses in [start, end). Doses
// taken early or on time contribute zero.
func MeanDelay(records []medication.Record, start, end time.Time) time.Duration {
	var total time.Duration
	taken := 0
	for _, rec := range filter(records, start, end) {
		if rec.Status != medication.StatusTaken {
			continue
		}
		taken++
		total += rec.Delay()
	}
	if taken == 0 {
		return 0
	}
	return total / time.Duration(taken)
}

type dayRun struct {
	day     time.Time
	perfect bool
}

// dayRuns collapses records into per-calendar-day buckets, oldest first,
// keeping only days that actually have data.
func dayRuns(records []medication.Record) []dayRun {
	type bucket struct {
		day     time.Time
		perfect bool
	}
	buckets := make(map[string]*bucket)
	for _, rec := range records {
		y, m, d := rec.ScheduledAt.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, rec.ScheduledAt.Location())
		key := day.Format("2006-01-02")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{day: day, perfect: true}
			buckets[key] = b
		}
		if rec.Status != medication.StatusTaken {
			b.perfect = false
		}
	}

	days := make([]dayRun, 0, len(buckets))
	for _, b := range buckets {
		days = append(days, dayRun{day: b.day, perfect: b.perfect})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].day.Before(days[j].day) })
	return days
}

func filter(records []medication.Record, start, end time.Time) []medication.Record {
	if start.IsZero() && end.IsZero() {
		return records
	}
	out := make([]medication.Record, 0, len(records))
	for _, rec := range records {
		if !start.IsZero() && rec.ScheduledAt.Before(start) {
			continue
		}
		if !end.IsZero() && !rec.ScheduledAt.Before(end) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
