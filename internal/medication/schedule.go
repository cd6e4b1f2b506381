package medication

import (
	"sort"
	"time"
)

// DefaultDayAnchor is the local time of the first dose of each day.
const DefaultDayAnchor = 9 * time.Hour

// GenerateDoses expands a plan into the ordered, finite dose sequence for
// [rangeStart, rangeEnd). DosesPerDay doses are spaced evenly across 24 hours
// starting at the day anchor; spacing may be fractional-hour. The result is
// deterministic and recomputable — there is no cursor to persist.
//
// The range is interpreted at calendar-day granularity: days are emitted from
// max(plan.StartDate, rangeStart) up to min(plan.EndDate, rangeEnd), with the
// plan's EndDate inclusive and the range end exclusive. An inverted or
// zero-length range yields an empty slice, not an error.
func GenerateDoses(plan *Plan, rangeStart, rangeEnd time.Time, anchor time.Duration) []Dose {
	if plan.DosesPerDay < 1 {
		return nil
	}

	first := dayOf(rangeStart)
	if planStart := dayOf(plan.StartDate); planStart.After(first) {
		first = planStart
	}

	lastExcl := dayOf(rangeEnd)
	if plan.EndDate != nil {
		if planEnd := dayOf(*plan.EndDate).AddDate(0, 0, 1); planEnd.Before(lastExcl) {
			lastExcl = planEnd
		}
	}

	if !first.Before(lastExcl) {
		return []Dose{}
	}

	spacing := 24 * time.Hour / time.Duration(plan.DosesPerDay)

	days := int(lastExcl.Sub(first).Hours()/24 + 0.5)
	doses := make([]Dose, 0, days*plan.DosesPerDay)

	for day := first; day.Before(lastExcl); day = day.AddDate(0, 0, 1) {
		base := day.Add(anchor)
		for i := 0; i < plan.DosesPerDay; i++ {
			doses = append(doses, Dose{
				MedicationID: plan.ID,
				ScheduledAt:  base.Add(time.Duration(i) * spacing),
				FoodTiming:   plan.FoodTiming,
			})
		}
	}

	return doses
}

// GenerateAll merges the dose sequences of several plans into one ordered
// sequence. Ties at the same instant are broken by medication ID so the
// output is deterministic across runs.
func GenerateAll(plans []Plan, rangeStart, rangeEnd time.Time, anchor time.Duration) []Dose {
	var doses []Dose
	for i := range plans {
		doses = append(doses, GenerateDoses(&plans[i], rangeStart, rangeEnd, anchor)...)
	}

	sort.Slice(doses, func(i, j int) bool {
		if !doses[i].ScheduledAt.Equal(doses[j].ScheduledAt) {
			return doses[i].ScheduledAt.Before(doses[j].ScheduledAt)
		}
		return doses[i].MedicationID < doses[j].MedicationID
	})

	return doses
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
