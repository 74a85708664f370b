package ports

import (
	"context"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/google/uuid"
)

type TallyRepository interface {
	Create(ctx context.Context, tally *domain.Tally) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tally, error)
	Update(ctx context.Context, tally *domain.Tally) error
	Delete(ctx context.Context, id uuid.UUID) error
	// FindByTableAndElection returns nil when the table has no tally for the election type.
	FindByTableAndElection(ctx context.Context, tableID, electionTypeID int64) (*domain.Tally, error)
	ListByDistrictKey(ctx context.Context, key domain.DistrictKey) ([]domain.Tally, error)
	DistinctKeys(ctx context.Context) ([]domain.DistrictKey, error)
}

type SubmitTallyInput struct {
	Date                  time.Time
	ElectionTypeID        int64
	SchoolID              int64
	TableID               int64
	TotalVoters           int64
	TotalRegisteredVoters int64
	Votes                 domain.Votes
}

// TallyChanges holds a partial correction. Nil fields are left untouched and
// Votes is merged category by category.
type TallyChanges struct {
	Date                  *time.Time
	ElectionTypeID        *int64
	SchoolID              *int64
	TableID               *int64
	TotalVoters           *int64
	TotalRegisteredVoters *int64
	Votes                 domain.Votes
}

type TallyService interface {
	Submit(ctx context.Context, input SubmitTallyInput) (*domain.Tally, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Tally, error)
	Revise(ctx context.Context, id uuid.UUID, changes TallyChanges) (*domain.Tally, error)
	Retract(ctx context.Context, id uuid.UUID) error
}
