// Package sweep runs the periodic overdue evaluation: pending doses past the
// grace period are marked missed and their escalations handed to a notifier.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dosetrack/internal/config"
	"dosetrack/internal/medication"
	"dosetrack/internal/metrics"
	"dosetrack/internal/risk"
)

// Notification is the payload handed to the external dispatcher for a dose
// the sweep just marked missed.
type Notification struct {
	RecordID         string    `json:"record_id"`
	PatientID        string    `json:"patient_id"`
	MedicationID     string    `json:"medication_id"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	EscalationLevel  int       `json:"escalation_level"`
	ActionRequired   string    `json:"action_required"`
	CareCircleNotify bool      `json:"care_circle_notify"`
}

// Notifier delivers notifications. Implementations live outside the engine
// (push, care-circle alerting); delivery failures never roll back the
// ledger write.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Runner executes the sweep on a cron schedule. It is safe to run from
// multiple instances at once: the ledger's conditional update makes the
// transition idempotent, so concurrent sweeps cannot double-fire.
type Runner struct {
	ledger   *medication.Ledger
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	grace         time.Duration
	escalation    config.EscalationConfig
	spec          string
	notifyTimeout time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewRunner creates a sweep runner.
func NewRunner(ledger *medication.Ledger, notifier Notifier, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if m == nil {
		m = metrics.Default()
	}
	return &Runner{
		ledger:        ledger,
		notifier:      notifier,
		logger:        logger,
		metrics:       m,
		grace:         cfg.Grace(),
		escalation:    cfg.Escalation,
		spec:          cfg.Sweep.Spec,
		notifyTimeout: time.Duration(cfg.Sweep.NotifyTimeout) * time.Second,
	}
}

// Start schedules the periodic sweep and runs one immediately.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("sweep runner already running")
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.spec, func() { r.RunOnce(time.Now()) }); err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", r.spec, err)
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Sweep runner started",
		zap.String("spec", r.spec),
		zap.Duration("grace", r.grace),
	)

	r.RunOnce(time.Now())
	return nil
}

// Stop halts the schedule and waits for in-flight notifications.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c := r.cron
	r.mu.Unlock()

	<-c.Stop().Done()
	r.wg.Wait()
	r.logger.Info("Sweep runner stopped")
}

// RunOnce performs a single sweep pass at the given instant and returns the
// records it transitioned to missed.
func (r *Runner) RunOnce(now time.Time) []medication.Record {
	r.metrics.RecordSweepRun()

	missed, err := r.ledger.SweepOverdue(now, r.grace)
	if err != nil {
		r.logger.Error("Overdue sweep failed", zap.Error(err))
		return nil
	}

	for _, rec := range missed {
		r.dispatch(rec, now)
	}

	return missed
}

// dispatch hands the escalation to the notifier without blocking the sweep.
// Notification delivery is fire-and-forget relative to the ledger write.
func (r *Runner) dispatch(rec medication.Record, now time.Time) {
	if r.notifier == nil {
		return
	}

	esc := risk.EscalateRecord(&rec, now, r.escalation)
	n := Notification{
		RecordID:         rec.ID,
		PatientID:        rec.PatientID,
		MedicationID:     rec.MedicationID,
		ScheduledAt:      rec.ScheduledAt,
		EscalationLevel:  esc.Level,
		ActionRequired:   esc.ActionRequired,
		CareCircleNotify: esc.CareCircleNotify,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()

		if err := r.notifier.Notify(ctx, n); err != nil {
			r.metrics.RecordNotification(false)
			r.logger.Error("Notification dispatch failed",
				zap.String("record_id", n.RecordID),
				zap.Int("level", n.EscalationLevel),
				zap.Error(err),
			)
			return
		}
		r.metrics.RecordNotification(true)
	}()
}
