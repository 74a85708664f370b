package ports

import (
	"context"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
)

type AggregateRepository interface {
	// Upsert inserts or overwrites the aggregate for its key in a single statement.
	Upsert(ctx context.Context, agg *domain.DistrictAggregate) error
	Delete(ctx context.Context, key domain.DistrictKey) error
	Get(ctx context.Context, key domain.DistrictKey) (*domain.DistrictAggregate, error)
	Keys(ctx context.Context) ([]domain.DistrictKey, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, key domain.DistrictKey) error
	ReconcileAll(ctx context.Context) (domain.SweepReport, error)
	Aggregate(ctx context.Context, key domain.DistrictKey) (*domain.DistrictAggregate, error)
}
