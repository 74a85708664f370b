package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reconcileTimeout = 30 * time.Second

type tallyService struct {
	tallies    ports.TallyRepository
	tables     ports.TableRepository
	validator  *TallyValidator
	reconciler ports.Reconciler
	logger     *zap.Logger
	now        func() time.Time
}

func NewTallyService(tallies ports.TallyRepository, tables ports.TableRepository, validator *TallyValidator, reconciler ports.Reconciler, logger *zap.Logger) ports.TallyService {
	return &tallyService{
		tallies:    tallies,
		tables:     tables,
		validator:  validator,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *tallyService) Submit(ctx context.Context, input ports.SubmitTallyInput) (*domain.Tally, error) {
	now := s.now()
	tally := &domain.Tally{
		ID:                    uuid.New(),
		Date:                  domain.Day(input.Date),
		ElectionTypeID:        input.ElectionTypeID,
		SchoolID:              input.SchoolID,
		TableID:               input.TableID,
		TotalVoters:           input.TotalVoters,
		TotalRegisteredVoters: input.TotalRegisteredVoters,
		Votes:                 input.Votes.Clone(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.validate(ctx, *tally, ValidateCreate); err != nil {
		return nil, err
	}
	if err := s.tallies.Create(ctx, tally); err != nil {
		return nil, err
	}
	metrics.TallyMutationsTotal.WithLabelValues("create").Inc()

	key, err := s.keyFor(ctx, *tally)
	if err != nil {
		s.logger.Error("cannot resolve district for new tally", zap.Stringer("tally_id", tally.ID), zap.Error(err))
		return tally, nil
	}
	s.reconcile(ctx, key)

	return tally, nil
}

func (s *tallyService) Get(ctx context.Context, id uuid.UUID) (*domain.Tally, error) {
	return s.tallies.GetByID(ctx, id)
}

func (s *tallyService) Revise(ctx context.Context, id uuid.UUID, changes ports.TallyChanges) (*domain.Tally, error) {
	existing, err := s.tallies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldKey, oldKeyErr := s.keyFor(ctx, *existing)

	revised := applyChanges(*existing, changes)
	revised.UpdatedAt = s.now()

	if err := s.validate(ctx, revised, ValidateUpdate); err != nil {
		return nil, err
	}
	if err := s.tallies.Update(ctx, &revised); err != nil {
		return nil, err
	}
	metrics.TallyMutationsTotal.WithLabelValues("update").Inc()

	newKey, err := s.keyFor(ctx, revised)
	if err != nil {
		s.logger.Error("cannot resolve district for revised tally", zap.Stringer("tally_id", id), zap.Error(err))
	} else {
		s.reconcile(ctx, newKey)
	}
	// A revision can move the tally to another school, election type or date;
	// the key it left must drop its contribution too.
	if oldKeyErr == nil && (err != nil || oldKey.String() != newKey.String()) {
		s.reconcile(ctx, oldKey)
	}

	return &revised, nil
}

func (s *tallyService) Retract(ctx context.Context, id uuid.UUID) error {
	existing, err := s.tallies.GetByID(ctx, id)
	if err != nil {
		return err
	}
	// The key must be captured while the row still exists.
	key, keyErr := s.keyFor(ctx, *existing)

	if err := s.tallies.Delete(ctx, id); err != nil {
		return err
	}
	metrics.TallyMutationsTotal.WithLabelValues("delete").Inc()

	if keyErr != nil {
		s.logger.Error("cannot resolve district for retracted tally", zap.Stringer("tally_id", id), zap.Error(keyErr))
		return nil
	}
	s.reconcile(ctx, key)
	return nil
}

func (s *tallyService) validate(ctx context.Context, t domain.Tally, mode ValidationMode) error {
	err := s.validator.Validate(ctx, t, mode)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		metrics.TallyRejectedTotal.WithLabelValues(string(verr.Kind)).Inc()
	}
	return err
}

func (s *tallyService) keyFor(ctx context.Context, t domain.Tally) (domain.DistrictKey, error) {
	school, err := s.tables.GetSchool(ctx, t.SchoolID)
	if err != nil {
		return domain.DistrictKey{}, fmt.Errorf("failed to look up school %d: %w", t.SchoolID, err)
	}
	return domain.DistrictKey{
		DistrictID:     school.DistrictID,
		SubDistrictID:  school.SubDistrictID,
		ElectionTypeID: t.ElectionTypeID,
		Date:           t.Date,
	}.Normalize(), nil
}

// reconcile runs after the write has committed, so its failure is logged and
// never returned to the caller.
func (s *tallyService) reconcile(ctx context.Context, key domain.DistrictKey) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()
	if err := s.reconciler.Reconcile(rctx, key); err != nil {
		s.logger.Error("aggregate left stale after tally write", zap.Stringer("key", key), zap.Error(err))
	}
}

func applyChanges(t domain.Tally, c ports.TallyChanges) domain.Tally {
	if c.Date != nil {
		t.Date = domain.Day(*c.Date)
	}
	if c.ElectionTypeID != nil {
		t.ElectionTypeID = *c.ElectionTypeID
	}
	if c.SchoolID != nil {
		t.SchoolID = *c.SchoolID
	}
	if c.TableID != nil {
		t.TableID = *c.TableID
	}
	if c.TotalVoters != nil {
		t.TotalVoters = *c.TotalVoters
	}
	if c.TotalRegisteredVoters != nil {
		t.TotalRegisteredVoters = *c.TotalRegisteredVoters
	}
	t.Votes = t.Votes.Clone()
	for category, n := range c.Votes {
		t.Votes[category] = n
	}
	return t
}
