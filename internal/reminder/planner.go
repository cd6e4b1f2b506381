// Package reminder plans notification payloads for upcoming doses. The
// planner only produces data; an external dispatcher owns delivery and
// timing, so restarts cost nothing — the plan is recomputed from history.
package reminder

import (
	"fmt"
	"time"

	"dosetrack/internal/analytics"
	"dosetrack/internal/config"
	"dosetrack/internal/medication"
	"dosetrack/internal/metrics"
)

// Tier is the urgency class of a planned reminder
type Tier string

const (
	TierHighPriority  Tier = "HIGH_PRIORITY"
	TierEarlyReminder Tier = "EARLY_REMINDER"
	TierStandard      Tier = "STANDARD"
)

// Plan is the payload handed to the notification dispatcher
type Plan struct {
	DoseKey      string    `json:"dose_key"`
	MedicationID string    `json:"medication_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	FireAt       time.Time `json:"fire_at"`
	Tier         Tier      `json:"tier"`
	Message      string    `json:"message"`
}

// Planner chooses lead times from each medication's historical punctuality
type Planner struct {
	cfg     config.ReminderConfig
	metrics *metrics.Metrics
}

// NewPlanner creates a reminder planner with the given policy.
func NewPlanner(cfg config.ReminderConfig, m *metrics.Metrics) *Planner {
	if m == nil {
		m = metrics.Default()
	}
	return &Planner{cfg: cfg, metrics: m}
}

// medStats is the per-medication history summary driving tier selection
type medStats struct {
	missedRate float64
	meanDelay  time.Duration
}

// PlanDoses produces one reminder per upcoming dose. history is the
// patient's ledger records; only the trailing window configured by policy
// feeds into the tier choice.
func (p *Planner) PlanDoses(doses []medication.Dose, history []medication.Record, names map[string]string, now time.Time) []Plan {
	stats := p.statsByMedication(history, now)

	plans := make([]Plan, 0, len(doses))
	for _, dose := range doses {
		if !dose.ScheduledAt.After(now) {
			continue
		}

		st := stats[dose.MedicationID]
		lead, tier := p.leadFor(st)

		name := names[dose.MedicationID]
		if name == "" {
			name = "your medication"
		}

		plans = append(plans, Plan{
			DoseKey:      dose.Key(),
			MedicationID: dose.MedicationID,
			ScheduledAt:  dose.ScheduledAt,
			FireAt:       dose.ScheduledAt.Add(-lead),
			Tier:         tier,
			Message:      messageFor(tier, name, dose),
		})
		p.metrics.RecordReminderPlanned()
	}

	return plans
}

// leadFor picks the lead time and tier from history: frequent misses get the
// longest runway, chronic lateness a head start, everyone else the default.
func (p *Planner) leadFor(st medStats) (time.Duration, Tier) {
	switch {
	case st.missedRate > p.cfg.MissedRateThreshold:
		return time.Duration(p.cfg.HighLeadMinutes) * time.Minute, TierHighPriority
	case st.meanDelay > time.Duration(p.cfg.MeanDelayMinutes)*time.Minute:
		return time.Duration(p.cfg.EarlyLeadMinutes) * time.Minute, TierEarlyReminder
	default:
		return time.Duration(p.cfg.StandardLeadMinutes) * time.Minute, TierStandard
	}
}

func (p *Planner) statsByMedication(history []medication.Record, now time.Time) map[string]medStats {
	start := now.AddDate(0, 0, -p.cfg.TrailingDays)

	byMed := make(map[string][]medication.Record)
	for _, rec := range history {
		byMed[rec.MedicationID] = append(byMed[rec.MedicationID], rec)
	}

	stats := make(map[string]medStats, len(byMed))
	for medID, recs := range byMed {
		stats[medID] = medStats{
			missedRate: analytics.MissedRate(recs, start, now),
			meanDelay:  analytics.MeanDelay(recs, start, now),
		}
	}
	return stats
}

func messageFor(tier Tier, name string, dose medication.Dose) string {
	when := dose.ScheduledAt.Format("3:04 PM")
	base := fmt.Sprintf("Time for %s at %s", name, when)
	if dose.FoodTiming != "" && dose.FoodTiming != medication.FoodAnytime {
		base += fmt.Sprintf(" (%s food)", dose.FoodTiming)
	}

	switch tier {
	case TierHighPriority:
		return base + ". This one has been missed often — please don't skip it."
	case TierEarlyReminder:
		return base + ". Heads up a little early so it isn't late."
	default:
		return base + "."
	}
}
