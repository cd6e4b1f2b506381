package sweep

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"dosetrack/internal/config"
	"dosetrack/internal/medication"
	"dosetrack/internal/metrics"
)

type captureNotifier struct {
	mu    sync.Mutex
	got   []Notification
	done  chan struct{}
	fail  bool
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{})}
}

func (c *captureNotifier) Notify(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.fail {
		return fmt.Errorf("dispatcher unavailable")
	}
	return nil
}

func (c *captureNotifier) wait(t *testing.T) []Notification {
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func setupRunner(t *testing.T, notifier Notifier) (*Runner, *medication.Store) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := medication.NewStore(db)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	ledger := medication.NewLedger(store, zap.NewNop(), m, medication.DefaultDayAnchor)

	cfg := config.Default()
	return NewRunner(ledger, notifier, cfg, zap.NewNop(), m), store
}

func pendingRecord(t *testing.T, store *medication.Store, medID string, at time.Time) medication.Record {
	recs, err := store.EnsureRecords("patient_1", []medication.Dose{{MedicationID: medID, ScheduledAt: at}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestRunOnce_MarksMissedAndNotifies(t *testing.T) {
	notifier := newCaptureNotifier()
	runner, store := setupRunner(t, notifier)

	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	rec := pendingRecord(t, store, "med_1", now.Add(-13*time.Hour))

	missed := runner.RunOnce(now)
	require.Len(t, missed, 1)

	got, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, medication.StatusMissed, got.Status)

	notifications := notifier.wait(t)
	require.Len(t, notifications, 1)
	assert.Equal(t, rec.ID, notifications[0].RecordID)
	assert.Equal(t, "patient_1", notifications[0].PatientID)
	assert.Equal(t, 2, notifications[0].EscalationLevel) // 13h overdue
	assert.True(t, notifications[0].CareCircleNotify)    // past the 12h line
}

func TestRunOnce_RespectsGrace(t *testing.T) {
	runner, store := setupRunner(t, nil)

	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	rec := pendingRecord(t, store, "med_1", now.Add(-90*time.Minute)) // inside default 120m grace

	missed := runner.RunOnce(now)
	assert.Empty(t, missed)

	got, _ := store.GetRecord(rec.ID)
	assert.Equal(t, medication.StatusPending, got.Status)
}

func TestRunOnce_Idempotent(t *testing.T) {
	notifier := newCaptureNotifier()
	runner, store := setupRunner(t, notifier)

	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	pendingRecord(t, store, "med_1", now.Add(-5*time.Hour))

	first := runner.RunOnce(now)
	require.Len(t, first, 1)

	// Second pass finds nothing pending: one transition, one notification.
	second := runner.RunOnce(now)
	assert.Empty(t, second)

	notifications := notifier.wait(t)
	assert.Len(t, notifications, 1)
}

func TestRunOnce_NotifierFailureKeepsLedgerWrite(t *testing.T) {
	notifier := newCaptureNotifier()
	notifier.fail = true
	runner, store := setupRunner(t, notifier)

	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	rec := pendingRecord(t, store, "med_1", now.Add(-30*time.Hour))

	missed := runner.RunOnce(now)
	require.Len(t, missed, 1)
	notifier.wait(t)

	// Delivery failure never rolls back the transition.
	got, _ := store.GetRecord(rec.ID)
	assert.Equal(t, medication.StatusMissed, got.Status)
}

func TestStartStop(t *testing.T) {
	runner, _ := setupRunner(t, nil)

	require.NoError(t, runner.Start())
	assert.Error(t, runner.Start(), "double start must fail")
	runner.Stop()
	runner.Stop() // second stop is a no-op
}
