package ports

import (
	"context"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
)

type TableRepository interface {
	GetTable(ctx context.Context, id int64) (*domain.Table, error)
	GetSchool(ctx context.Context, id int64) (*domain.School, error)
	// ListSchools returns every school in ascending ID order.
	ListSchools(ctx context.Context) ([]domain.School, error)
	// ListTablesBySchool returns the school's tables ordered by number, then ID.
	ListTablesBySchool(ctx context.Context, schoolID int64) ([]domain.Table, error)
	// ApplySchoolPlan executes the plan atomically. Tallies on deleted tables are
	// removed with them and their district keys are reported.
	ApplySchoolPlan(ctx context.Context, plan domain.SchoolPlan) (domain.AppliedPlan, error)
}

// Locker grants exclusive, cross-process locks. TryLock fails with
// domain.ErrLockHeld instead of waiting.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

type RepairService interface {
	Repair(ctx context.Context) (domain.RepairReport, error)
	Preview(ctx context.Context) (domain.RepairReport, error)
}
