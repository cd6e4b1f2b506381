package medication

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "dosetrack/internal/errors"
	"dosetrack/internal/metrics"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func setupLedger(t *testing.T) (*Ledger, *Store) {
	db := setupTestDB(t)
	store, err := NewStore(db)
	require.NoError(t, err)

	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	return NewLedger(store, logger, m, DefaultDayAnchor), store
}

func makeRecord(t *testing.T, store *Store, medID string, scheduledAt time.Time) Record {
	recs, err := store.EnsureRecords("patient_1", []Dose{{MedicationID: medID, ScheduledAt: scheduledAt}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

// Store tests

func TestStore_CreatePlanValidation(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db)
	require.NoError(t, err)

	tests := []struct {
		name string
		plan *Plan
	}{
		{"missing name", &Plan{DosesPerDay: 1}},
		{"zero doses per day", &Plan{Name: "X", DosesPerDay: 0}},
		{"unknown food timing", &Plan{Name: "X", DosesPerDay: 1, FoodTiming: "brunch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.CreatePlan(tt.plan)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidPlan), "expected InvalidPlan, got %v", err)
		})
	}

	// end before start
	end := date(2025, 1, 1)
	plan := &Plan{Name: "X", DosesPerDay: 1, StartDate: date(2025, 2, 1), EndDate: &end}
	err = store.CreatePlan(plan)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidPlan))

	// valid plan gets an ID and defaults
	plan = &Plan{PatientID: "patient_1", Name: "Lisinopril", DosesPerDay: 2, StartDate: date(2025, 1, 1)}
	require.NoError(t, store.CreatePlan(plan))
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, FoodAnytime, plan.FoodTiming)
	assert.True(t, plan.Active)
}

func TestStore_DeactivateNotDelete(t *testing.T) {
	_, store := setupLedger(t)

	plan := &Plan{PatientID: "patient_1", Name: "Metformin", DosesPerDay: 1, StartDate: date(2025, 1, 1)}
	require.NoError(t, store.CreatePlan(plan))

	makeRecord(t, store, plan.ID, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))

	// hard delete refused while history references the plan
	err := store.DeletePlan(plan.ID)
	assert.True(t, errors.Is(err, apperrors.ErrPlanInUse))

	require.NoError(t, store.DeactivatePlan(plan.ID))
	got, err := store.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// deactivated plans drop out of the active listing only
	active, err := store.ListPlans("patient_1", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListPlans("patient_1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_EnsureRecordsIdempotent(t *testing.T) {
	_, store := setupLedger(t)

	doses := []Dose{
		{MedicationID: "med_1", ScheduledAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{MedicationID: "med_1", ScheduledAt: time.Date(2025, 3, 1, 21, 0, 0, 0, time.UTC)},
	}

	first, err := store.EnsureRecords("patient_1", doses)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := store.EnsureRecords("patient_1", doses)
	require.NoError(t, err)
	require.Len(t, second, 2)

	// Same rows, not duplicates.
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)

	all, err := store.GetRecords("patient_1", "med_1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// Ledger tests

func TestLedger_RecordActionTaken(t *testing.T) {
	ledger, store := setupLedger(t)

	scheduled := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := makeRecord(t, store, "med_1", scheduled)

	actual := scheduled.Add(5 * time.Minute)
	got, err := ledger.RecordAction(rec.ID, StatusTaken, &actual, "with breakfast")
	require.NoError(t, err)

	assert.Equal(t, StatusTaken, got.Status)
	require.NotNil(t, got.ActualAt)
	assert.True(t, got.ActualAt.Equal(actual))
	assert.Equal(t, "with breakfast", got.Notes)
}

func TestLedger_RecordActionOnTerminalIsConflict(t *testing.T) {
	ledger, store := setupLedger(t)

	rec := makeRecord(t, store, "med_1", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := ledger.RecordAction(rec.ID, StatusSkipped, nil, "")
	require.NoError(t, err)

	_, err = ledger.RecordAction(rec.ID, StatusTaken, nil, "")
	assert.True(t, errors.Is(err, apperrors.ErrStateConflict), "expected StateConflict, got %v", err)

	// The loser must treat the conflict as a no-op: state is unchanged.
	got, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, got.Status)
}

func TestLedger_RecordActionRejectsInvalidStatus(t *testing.T) {
	ledger, store := setupLedger(t)
	rec := makeRecord(t, store, "med_1", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := ledger.RecordAction(rec.ID, StatusPending, nil, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))

	_, err = ledger.RecordAction(rec.ID, Status("late"), nil, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))
}

func TestLedger_RecordActionUnknownRecord(t *testing.T) {
	ledger, _ := setupLedger(t)

	_, err := ledger.RecordAction("nope", StatusTaken, nil, "")
	assert.True(t, errors.Is(err, apperrors.ErrRecordNotFound))
}

func TestLedger_SweepOverdue(t *testing.T) {
	ledger, store := setupLedger(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 2 * time.Hour

	overdue := makeRecord(t, store, "med_1", now.Add(-3*time.Hour))
	inGrace := makeRecord(t, store, "med_2", now.Add(-1*time.Hour))
	future := makeRecord(t, store, "med_3", now.Add(2*time.Hour))

	missed, err := ledger.SweepOverdue(now, grace)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, overdue.ID, missed[0].ID)

	got, _ := store.GetRecord(overdue.ID)
	assert.Equal(t, StatusMissed, got.Status)
	got, _ = store.GetRecord(inGrace.ID)
	assert.Equal(t, StatusPending, got.Status)
	got, _ = store.GetRecord(future.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestLedger_SweepIsIdempotent(t *testing.T) {
	ledger, store := setupLedger(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := makeRecord(t, store, "med_1", now.Add(-5*time.Hour))

	first, err := ledger.SweepOverdue(now, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := ledger.SweepOverdue(now, 2*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, second, "re-running the sweep must not transition again")

	got, _ := store.GetRecord(rec.ID)
	assert.Equal(t, StatusMissed, got.Status)
}

func TestLedger_SweepLosesToUserAction(t *testing.T) {
	ledger, store := setupLedger(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := makeRecord(t, store, "med_1", now.Add(-5*time.Hour))

	// User marks it taken before the sweep fires.
	actual := now.Add(-4 * time.Hour)
	_, err := ledger.RecordAction(rec.ID, StatusTaken, &actual, "")
	require.NoError(t, err)

	missed, err := ledger.SweepOverdue(now, 2*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, missed)

	got, _ := store.GetRecord(rec.ID)
	assert.Equal(t, StatusTaken, got.Status)
}

func TestLedger_CorrectLeavesAuditNote(t *testing.T) {
	ledger, store := setupLedger(t)

	rec := makeRecord(t, store, "med_1", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	_, err := ledger.RecordAction(rec.ID, StatusMissed, nil, "")
	require.NoError(t, err)

	actual := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	got, err := ledger.Correct(rec.ID, StatusTaken, &actual, "patient confirmed later")
	require.NoError(t, err)

	assert.Equal(t, StatusTaken, got.Status)
	require.NotNil(t, got.ActualAt)
	assert.Contains(t, got.Notes, "corrected from missed")
	assert.Contains(t, got.Notes, "patient confirmed later")
}

func TestLedger_EnsureWindowAndDayView(t *testing.T) {
	ledger, store := setupLedger(t)

	plan := &Plan{
		PatientID:   "patient_1",
		Name:        "Lisinopril",
		DosageText:  "10mg",
		DosesPerDay: 2,
		FoodTiming:  FoodWith,
		StartDate:   date(2025, 3, 1),
	}
	require.NoError(t, store.CreatePlan(plan))

	day := date(2025, 3, 10)
	view, err := ledger.DayView("patient_1", day)
	require.NoError(t, err)
	require.Len(t, view, 2)

	assert.Equal(t, StatusPending, view[0].Status)
	assert.Equal(t, FoodWith, view[0].Dose.FoodTiming)
	assert.NotEmpty(t, view[0].RecordID)

	// Taking a dose shows up on the next view.
	_, err = ledger.RecordAction(view[0].RecordID, StatusTaken, nil, "")
	require.NoError(t, err)

	view, err = ledger.DayView("patient_1", day)
	require.NoError(t, err)
	assert.Equal(t, StatusTaken, view[0].Status)
	assert.Equal(t, StatusPending, view[1].Status)
}
