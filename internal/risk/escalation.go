package risk

import (
	"time"

	"dosetrack/internal/config"
	"dosetrack/internal/medication"
)

// Escalation is the severity tier assigned to an overdue dose
type Escalation struct {
	Level            int    `json:"level"` // 1-3
	ActionRequired   string `json:"action_required"`
	CareCircleNotify bool   `json:"care_circle_notify"`
	HoursOverdue     float64 `json:"hours_overdue"`
}

// Escalate assigns the tier for a dose overdue since scheduledAt. It applies
// to pending doses past grace and to freshly missed ones alike; the
// thresholds come from deployment policy, not inline constants.
func Escalate(scheduledAt, now time.Time, cfg config.EscalationConfig) Escalation {
	hours := now.Sub(scheduledAt).Hours()
	if hours < 0 {
		hours = 0
	}

	esc := Escalation{HoursOverdue: hours}
	switch {
	case hours >= float64(cfg.CriticalAfterHours):
		esc.Level = 3
		esc.ActionRequired = "Dose critically overdue — contact the provider."
		esc.CareCircleNotify = true
	case hours >= float64(cfg.UrgentAfterHours):
		esc.Level = 2
		esc.ActionRequired = "Dose urgently overdue — take it now and contact the pharmacist if unsure."
		esc.CareCircleNotify = hours >= float64(cfg.NotifyAfterHours)
	default:
		esc.Level = 1
		esc.ActionRequired = "Dose overdue — take it now."
	}

	return esc
}

// EscalateRecord is Escalate over a ledger record.
func EscalateRecord(rec *medication.Record, now time.Time, cfg config.EscalationConfig) Escalation {
	return Escalate(rec.ScheduledAt, now, cfg)
}
