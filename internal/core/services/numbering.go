package services

import (
	"sort"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
)

// numberingCursor is the single counter of a repair run. It is passed by value
// from one school to the next, in ascending school ID order, and never reset.
type numberingCursor struct {
	next int
	// createsLeft is the remaining creation budget; negative means unbounded.
	createsLeft int
}

func newNumberingCursor(maxCreates int) numberingCursor {
	cur := numberingCursor{next: 1, createsLeft: -1}
	if maxCreates > 0 {
		cur.createsLeft = maxCreates
	}
	return cur
}

// planSchool decides the writes for one school and returns the advanced cursor.
// Tables are kept in (number, id) order; the ones sorted last go when the school
// is over quota.
func planSchool(cur numberingCursor, school domain.School, tables []domain.Table) (domain.SchoolPlan, numberingCursor) {
	ordered := make([]domain.Table, len(tables))
	copy(ordered, tables)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Number != ordered[j].Number {
			return ordered[i].Number < ordered[j].Number
		}
		return ordered[i].ID < ordered[j].ID
	})

	quota := max(school.ExpectedTableCount, 0)
	plan := domain.SchoolPlan{School: school}

	kept := ordered
	if len(ordered) > quota {
		kept = ordered[:quota]
		plan.Delete = ordered[quota:]
	}

	for _, t := range kept {
		if t.Number != cur.next {
			plan.Renumber = append(plan.Renumber, domain.Renumber{TableID: t.ID, From: t.Number, To: cur.next})
		}
		cur.next++
	}

	for missing := quota - len(kept); missing > 0 && cur.createsLeft != 0; missing-- {
		plan.Create = append(plan.Create, cur.next)
		cur.next++
		if cur.createsLeft > 0 {
			cur.createsLeft--
		}
	}

	plan.Allocated = len(kept) + len(plan.Create)
	plan.Shortfall = quota - plan.Allocated
	return plan, cur
}

// PlanRepair plans a whole run over schools already sorted by ID.
func PlanRepair(schools []domain.School, tablesBySchool map[int64][]domain.Table, maxCreates int) []domain.SchoolPlan {
	cur := newNumberingCursor(maxCreates)
	plans := make([]domain.SchoolPlan, 0, len(schools))
	for _, school := range schools {
		var plan domain.SchoolPlan
		plan, cur = planSchool(cur, school, tablesBySchool[school.ID])
		plans = append(plans, plan)
	}
	return plans
}
