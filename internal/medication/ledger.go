package medication

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "dosetrack/internal/errors"
	"dosetrack/internal/metrics"
)

// Ledger tracks doses through the status lifecycle. It owns the one stateful
// resource in the engine; everything downstream reads its records.
type Ledger struct {
	store   *Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	anchor  time.Duration
}

// NewLedger creates a ledger over the given store.
func NewLedger(store *Store, logger *zap.Logger, m *metrics.Metrics, anchor time.Duration) *Ledger {
	if m == nil {
		m = metrics.Default()
	}
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		anchor:  anchor,
	}
}

// Store exposes the underlying store for read-side consumers.
func (l *Ledger) Store() *Store {
	return l.store
}

// RecordAction transitions a pending record to a terminal status on explicit
// user action. Acting on an already-terminal record returns ErrStateConflict;
// the caller should re-read and treat the conflict as a no-op.
func (l *Ledger) RecordAction(recordID string, status Status, actualAt *time.Time, notes string) (*Record, error) {
	if !status.Valid() || status == StatusPending {
		return nil, apperrors.New(apperrors.ErrInvalidStatus.Code, fmt.Sprintf("cannot transition to %q", status))
	}
	if status == StatusTaken && actualAt == nil {
		now := time.Now()
		actualAt = &now
	}
	if status != StatusTaken {
		actualAt = nil
	}

	affected, err := l.store.transition(recordID, status, actualAt, notes)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		rec, err := l.store.GetRecord(recordID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, apperrors.ErrRecordNotFound
		}
		l.metrics.RecordStateConflict()
		return nil, apperrors.Wrap(
			fmt.Errorf("record is %s", rec.Status),
			apperrors.ErrStateConflict.Code, apperrors.ErrStateConflict.Message,
		)
	}

	l.metrics.RecordTransition(string(status))
	l.logger.Info("Dose recorded",
		zap.String("record_id", recordID),
		zap.String("status", string(status)),
	)

	return l.store.GetRecord(recordID)
}

// Correct overrides a terminal record. Corrections are the only mutation
// allowed after a terminal state and always leave an audit note.
func (l *Ledger) Correct(recordID string, status Status, actualAt *time.Time, reason string) (*Record, error) {
	if !status.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalidStatus.Code, fmt.Sprintf("cannot correct to %q", status))
	}

	rec, err := l.store.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.ErrRecordNotFound
	}

	audit := fmt.Sprintf("corrected from %s at %s", rec.Status, time.Now().Format(time.RFC3339))
	if reason != "" {
		audit += ": " + reason
	}
	if rec.Notes != "" {
		audit = rec.Notes + "; " + audit
	}

	rec.Status = status
	rec.Notes = audit
	rec.UpdatedAt = time.Now()
	if status == StatusTaken {
		if actualAt == nil {
			now := time.Now()
			actualAt = &now
		}
		rec.ActualAt = actualAt
	} else {
		rec.ActualAt = nil
	}

	if err := l.store.db.Save(rec).Error; err != nil {
		return nil, err
	}

	l.logger.Warn("Dose record corrected",
		zap.String("record_id", recordID),
		zap.String("status", string(status)),
	)

	return rec, nil
}

// SweepOverdue transitions pending records to missed once they are more than
// grace past their scheduled time, and returns the records that transitioned
// in this run. The sweep is idempotent: already-missed records are untouched,
// and concurrent sweeps race on the conditional update so at most one writer
// wins per record.
func (l *Ledger) SweepOverdue(now time.Time, grace time.Duration) ([]Record, error) {
	overdue, err := l.store.OverdueRecords(now, grace)
	if err != nil {
		return nil, err
	}

	var missed []Record
	for _, rec := range overdue {
		affected, err := l.store.transition(rec.ID, StatusMissed, nil, "")
		if err != nil {
			return missed, err
		}
		if affected == 0 {
			// Lost the race to a user action or another sweep worker.
			continue
		}

		rec.Status = StatusMissed
		missed = append(missed, rec)
		l.metrics.RecordTransition(string(StatusMissed))
	}

	if len(missed) > 0 {
		l.logger.Info("Overdue sweep transitioned doses",
			zap.Int("missed", len(missed)),
			zap.Duration("grace", grace),
		)
	}

	return missed, nil
}

// EnsureWindow generates doses for the patient's active plans over
// [start, end) and materializes pending records for any not yet tracked.
func (l *Ledger) EnsureWindow(patientID string, start, end time.Time) ([]Record, error) {
	plans, err := l.store.ListPlans(patientID, true)
	if err != nil {
		return nil, err
	}

	doses := GenerateAll(plans, start, end, l.anchor)
	return l.store.EnsureRecords(patientID, doses)
}

// DayView joins the generated doses for one calendar day with their ledger
// status, for dashboard-style "today" screens.
func (l *Ledger) DayView(patientID string, day time.Time) ([]DoseStatus, error) {
	start := dayOf(day)
	end := start.AddDate(0, 0, 1)

	records, err := l.EnsureWindow(patientID, start, end)
	if err != nil {
		return nil, err
	}

	plans, err := l.store.ListPlans(patientID, true)
	if err != nil {
		return nil, err
	}
	timing := make(map[string]FoodTiming, len(plans))
	for _, p := range plans {
		timing[p.ID] = p.FoodTiming
	}

	view := make([]DoseStatus, 0, len(records))
	for _, rec := range records {
		view = append(view, DoseStatus{
			Dose: Dose{
				MedicationID: rec.MedicationID,
				ScheduledAt:  rec.ScheduledAt,
				FoodTiming:   timing[rec.MedicationID],
			},
			RecordID: rec.ID,
			Status:   rec.Status,
			ActualAt: rec.ActualAt,
		})
	}

	return view, nil
}
