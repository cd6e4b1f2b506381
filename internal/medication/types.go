package medication

import (
	"time"
)

// FoodTiming describes how a dose relates to meals
type FoodTiming string

const (
	FoodBefore  FoodTiming = "before"
	FoodAfter   FoodTiming = "after"
	FoodWith    FoodTiming = "with"
	FoodAnytime FoodTiming = "anytime"
)

// Valid reports whether the food timing is one of the known values.
func (f FoodTiming) Valid() bool {
	switch f {
	case FoodBefore, FoodAfter, FoodWith, FoodAnytime:
		return true
	}
	return false
}

// Status is the lifecycle state of an adherence record
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further automatic transition is allowed.
// Pending is the only non-terminal state.
func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusMissed || s == StatusSkipped
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusMissed, StatusSkipped:
		return true
	}
	return false
}

// Plan is a medication's dosing rule for one patient
type Plan struct {
	ID        string `json:"id" gorm:"primaryKey"`
	PatientID string `json:"patient_id" gorm:"index"`

	Name       string     `json:"name"`
	DosageText string     `json:"dosage_text"` // e.g. "10mg", "1 tablet"
	DosesPerDay int       `json:"doses_per_day"`
	FoodTiming FoodTiming `json:"food_timing"`

	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"` // inclusive; nil = indefinite

	// Active gates tracking. Plans are deactivated, never hard-deleted,
	// while adherence history references them.
	Active bool `json:"active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether the plan is dosing on the given day.
func (p *Plan) Covers(day time.Time) bool {
	y, m, d := day.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, day.Location())

	sy, sm, sd := p.StartDate.Date()
	start := time.Date(sy, sm, sd, 0, 0, 0, 0, p.StartDate.Location())
	if day.Before(start) {
		return false
	}
	if p.EndDate != nil {
		ey, em, ed := p.EndDate.Date()
		end := time.Date(ey, em, ed, 0, 0, 0, 0, p.EndDate.Location())
		if day.After(end) {
			return false
		}
	}
	return true
}

// Dose is a single derived administration event. Doses are recomputed from
// the plan, never stored on their own.
type Dose struct {
	MedicationID string     `json:"medication_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	FoodTiming   FoodTiming `json:"food_timing"`
}

// Key identifies a dose for external dispatchers.
func (d Dose) Key() string {
	return d.MedicationID + "@" + d.ScheduledAt.UTC().Format(time.RFC3339)
}

// Record tracks one dose through the status lifecycle
type Record struct {
	ID           string `json:"id" gorm:"primaryKey"`
	PatientID    string `json:"patient_id" gorm:"index"`
	MedicationID string `json:"medication_id" gorm:"index:idx_med_sched,unique"`

	ScheduledAt time.Time  `json:"scheduled_at" gorm:"index:idx_med_sched,unique"`
	ActualAt    *time.Time `json:"actual_at,omitempty"`
	Status      Status     `json:"status" gorm:"default:pending"`
	Notes       string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether a pending record has exceeded the grace period.
func (r *Record) Overdue(now time.Time, grace time.Duration) bool {
	if r.Status != StatusPending {
		return false
	}
	return now.Sub(r.ScheduledAt) > grace
}

// Delay is how late the dose was taken, zero when on time or early.
func (r *Record) Delay() time.Duration {
	if r.Status != StatusTaken || r.ActualAt == nil {
		return 0
	}
	d := r.ActualAt.Sub(r.ScheduledAt)
	if d < 0 {
		return 0
	}
	return d
}

// DoseStatus pairs a generated dose with its ledger state for a day view
type DoseStatus struct {
	Dose     Dose    `json:"dose"`
	RecordID string  `json:"record_id,omitempty"`
	Status   Status  `json:"status"`
	ActualAt *time.Time `json:"actual_at,omitempty"`
}
