// Package risk scores a medication's adherence trajectory and assigns
// escalation tiers to overdue doses.
package risk

import (
	"time"

	"dosetrack/internal/analytics"
	"dosetrack/internal/config"
	"dosetrack/internal/medication"
)

// Trend is the direction of the recent adherence rate versus the older one
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
)

// Level buckets the risk score
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Assessment is the per-medication risk output
type Assessment struct {
	Score          int     `json:"score"` // 0-100, higher is worse
	Trend          Trend   `json:"trend"`
	Level          Level   `json:"level"`
	Recommendation string  `json:"recommendation"`
	RecentRate     float64 `json:"recent_rate"`
	OlderRate      float64 `json:"older_rate"`
}

var recommendations = map[Level]string{
	LevelLow:      "Adherence is on track. Keep the current routine.",
	LevelMedium:   "Adherence is slipping. Review dose times and reminder settings.",
	LevelHigh:     "Adherence is poor. Simplify the schedule and involve the care circle.",
	LevelCritical: "Adherence has broken down. Contact the patient and their provider.",
}

// Assess scores a medication from its recent window (last RecentDays) versus
// the older one (RecentDays back to OlderDays back).
func Assess(records []medication.Record, now time.Time, cfg config.RiskConfig) Assessment {
	recentStart := now.AddDate(0, 0, -cfg.RecentDays)
	olderStart := now.AddDate(0, 0, -cfg.OlderDays)

	recent := analytics.RateBetween(records, recentStart, now)
	older := analytics.RateBetween(records, olderStart, recentStart)

	trend := TrendStable
	switch {
	case recent-older > cfg.TrendDelta:
		trend = TrendImproving
	case recent-older < -cfg.TrendDelta:
		trend = TrendDeclining
	}

	score := scoreFor(recent, trend)
	level := levelFor(score)

	return Assessment{
		Score:          score,
		Trend:          trend,
		Level:          level,
		Recommendation: recommendations[level],
		RecentRate:     recent,
		OlderRate:      older,
	}
}

// scoreFor maps (recent rate, trend) onto the risk score. Buckets are tried
// in order; the first match wins.
func scoreFor(recent float64, trend Trend) int {
	switch {
	case recent >= 90 && trend != TrendDeclining:
		return 10
	case recent >= 80 && trend == TrendStable:
		return 25
	case recent >= 70 && trend == TrendImproving:
		return 35
	case recent >= 60:
		return 50
	case recent >= 40:
		return 70
	default:
		return 90
	}
}

func levelFor(score int) Level {
	switch {
	case score <= 25:
		return LevelLow
	case score <= 50:
		return LevelMedium
	case score <= 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}
