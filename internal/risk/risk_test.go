package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dosetrack/internal/config"
	"dosetrack/internal/medication"
)

var riskCfg = config.RiskConfig{RecentDays: 7, OlderDays: 14, TrendDelta: 10}

// windowRecords builds total records per day over (toDaysAgo, fromDaysAgo]
// days back from now, marking takenOutOf of each day's records taken and the
// rest missed.
func windowRecords(now time.Time, fromDaysAgo, toDaysAgo int, takenOutOf, total int) []medication.Record {
	var records []medication.Record
	i := 0
	for d := fromDaysAgo; d > toDaysAgo; d-- {
		for n := 0; n < total; n++ {
			at := now.AddDate(0, 0, -d).Add(time.Duration(n) * time.Hour)
			status := medication.StatusMissed
			if i%total < takenOutOf {
				status = medication.StatusTaken
			}
			r := medication.Record{
				MedicationID: "med_1",
				ScheduledAt:  at,
				Status:       status,
			}
			if status == medication.StatusTaken {
				actual := at
				r.ActualAt = &actual
			}
			records = append(records, r)
			i++
		}
	}
	return records
}

func TestAssess_StableHighAdherence(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	// ~95% in both windows: 19 of 20 taken recent, 19 of 20 older.
	recent := windowRecords(now, 7, 0, 19, 20)
	older := windowRecords(now, 14, 7, 19, 20)
	records := append(older, recent...)

	a := Assess(records, now, riskCfg)

	assert.Equal(t, TrendStable, a.Trend)
	assert.Equal(t, 10, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Equal(t, 95.0, a.RecentRate)
	assert.NotEmpty(t, a.Recommendation)
}

func TestAssess_TrendThresholds(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name              string
		recentTaken       int
		olderTaken        int
		wantTrend         Trend
	}{
		{"improving", 9, 5, TrendImproving},  // 90 vs 50
		{"declining", 5, 9, TrendDeclining},  // 50 vs 90
		{"stable within delta", 8, 8, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recent := windowRecords(now, 7, 0, tt.recentTaken, 10)
			older := windowRecords(now, 14, 7, tt.olderTaken, 10)
			a := Assess(append(older, recent...), now, riskCfg)
			assert.Equal(t, tt.wantTrend, a.Trend)
		})
	}
}

func TestScoreBuckets(t *testing.T) {
	tests := []struct {
		recent float64
		trend  Trend
		want   int
	}{
		{95, TrendStable, 10},
		{95, TrendImproving, 10},
		{95, TrendDeclining, 50}, // high rate but declining skips the top bucket
		{85, TrendStable, 25},
		{85, TrendImproving, 35},
		{75, TrendImproving, 35},
		{75, TrendStable, 50},
		{65, TrendDeclining, 50},
		{45, TrendStable, 70},
		{20, TrendImproving, 90},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, scoreFor(tt.recent, tt.trend),
			"recent=%v trend=%s", tt.recent, tt.trend)
	}
}

func TestLevels(t *testing.T) {
	assert.Equal(t, LevelLow, levelFor(10))
	assert.Equal(t, LevelLow, levelFor(25))
	assert.Equal(t, LevelMedium, levelFor(50))
	assert.Equal(t, LevelHigh, levelFor(70))
	assert.Equal(t, LevelCritical, levelFor(90))
}

func TestAssess_NoHistory(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	a := Assess(nil, now, riskCfg)
	assert.Equal(t, TrendStable, a.Trend)
	assert.Equal(t, 90, a.Score)
	assert.Equal(t, LevelCritical, a.Level)
}
