package medication

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "dosetrack/internal/errors"
)

// Store handles plan and adherence record persistence
type Store struct {
	db *gorm.DB
}

// NewStore creates a new medication store
func NewStore(db *gorm.DB) (*Store, error) {
	store := &Store{db: db}

	if err := db.AutoMigrate(&Plan{}, &Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate medication schemas: %w", err)
	}

	return store, nil
}

// Plan operations

// ValidatePlan rejects plans the generator must never see.
func ValidatePlan(plan *Plan) error {
	if plan.Name == "" {
		return apperrors.New(apperrors.ErrInvalidPlan.Code, "name is required")
	}
	if plan.DosesPerDay < 1 {
		return apperrors.New(apperrors.ErrInvalidPlan.Code, "doses_per_day must be at least 1")
	}
	if plan.FoodTiming != "" && !plan.FoodTiming.Valid() {
		return apperrors.New(apperrors.ErrInvalidPlan.Code, fmt.Sprintf("unknown food timing %q", plan.FoodTiming))
	}
	if plan.EndDate != nil && plan.EndDate.Before(plan.StartDate) {
		return apperrors.New(apperrors.ErrInvalidPlan.Code, "end_date must not precede start_date")
	}
	return nil
}

func (s *Store) CreatePlan(plan *Plan) error {
	if plan.FoodTiming == "" {
		plan.FoodTiming = FoodAnytime
	}
	if plan.StartDate.IsZero() {
		plan.StartDate = time.Now()
	}
	if err := ValidatePlan(plan); err != nil {
		return err
	}

	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.Active = true
	plan.CreatedAt = time.Now()
	plan.UpdatedAt = time.Now()
	return s.db.Create(plan).Error
}

func (s *Store) GetPlan(id string) (*Plan, error) {
	var plan Plan
	err := s.db.Where("id = ?", id).First(&plan).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return &plan, err
}

func (s *Store) UpdatePlan(plan *Plan) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	plan.UpdatedAt = time.Now()
	return s.db.Save(plan).Error
}

// DeactivatePlan is the logical delete: history stays intact.
func (s *Store) DeactivatePlan(id string) error {
	res := s.db.Model(&Plan{}).Where("id = ?", id).Updates(map[string]interface{}{
		"active":     false,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrPlanNotFound
	}
	return nil
}

// DeletePlan hard-deletes a plan, refusing while adherence history
// references it.
func (s *Store) DeletePlan(id string) error {
	var count int64
	if err := s.db.Model(&Record{}).Where("medication_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperrors.ErrPlanInUse
	}
	return s.db.Where("id = ?", id).Delete(&Plan{}).Error
}

func (s *Store) ListPlans(patientID string, activeOnly bool) ([]Plan, error) {
	query := s.db.Where("patient_id = ?", patientID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var plans []Plan
	err := query.Order("created_at ASC").Find(&plans).Error
	return plans, err
}

// Record operations

// EnsureRecords lazily materializes pending records for generated doses.
// Re-running it over the same doses is a no-op: the (medication, scheduled_at)
// pair is unique and existing rows are left untouched.
func (s *Store) EnsureRecords(patientID string, doses []Dose) ([]Record, error) {
	records := make([]Record, 0, len(doses))

	for _, dose := range doses {
		rec := Record{
			ID:           uuid.NewString(),
			PatientID:    patientID,
			MedicationID: dose.MedicationID,
			ScheduledAt:  dose.ScheduledAt,
			Status:       StatusPending,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}

		err := s.db.Where("medication_id = ? AND scheduled_at = ?", dose.MedicationID, dose.ScheduledAt).
			FirstOrCreate(&rec).Error
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *Store) GetRecord(id string) (*Record, error) {
	var rec Record
	err := s.db.Where("id = ?", id).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return &rec, err
}

// GetRecords returns a patient's records, oldest first. medicationID, start
// and end are optional filters; every query is scoped by patient identity.
func (s *Store) GetRecords(patientID, medicationID string, start, end time.Time) ([]Record, error) {
	query := s.db.Where("patient_id = ?", patientID)

	if medicationID != "" {
		query = query.Where("medication_id = ?", medicationID)
	}
	if !start.IsZero() {
		query = query.Where("scheduled_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("scheduled_at < ?", end)
	}

	var records []Record
	err := query.Order("scheduled_at ASC").Find(&records).Error
	return records, err
}

// OverdueRecords returns pending records past the grace period.
func (s *Store) OverdueRecords(now time.Time, grace time.Duration) ([]Record, error) {
	var records []Record
	err := s.db.Where("status = ? AND scheduled_at < ?", StatusPending, now.Add(-grace)).
		Order("scheduled_at ASC").
		Find(&records).Error
	return records, err
}

// transition is the single atomic conditional write: it only fires while the
// record is still pending, so a user action and a concurrent sweep cannot
// both win. Returns the number of rows transitioned (0 or 1).
func (s *Store) transition(recordID string, to Status, actualAt *time.Time, notes string) (int64, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if actualAt != nil {
		updates["actual_at"] = actualAt
	}
	if notes != "" {
		updates["notes"] = notes
	}

	res := s.db.Model(&Record{}).
		Where("id = ? AND status = ?", recordID, StatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}
