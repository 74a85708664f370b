package services

import (
	"context"
	"fmt"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
)

type ValidationMode int

const (
	ValidateCreate ValidationMode = iota
	ValidateUpdate
)

// TallyValidator checks a candidate tally before it is written. The first
// failing check wins.
type TallyValidator struct {
	tables     ports.TableRepository
	tallies    ports.TallyRepository
	categories domain.Categories
}

func NewTallyValidator(tables ports.TableRepository, tallies ports.TallyRepository, categories domain.Categories) *TallyValidator {
	return &TallyValidator{
		tables:     tables,
		tallies:    tallies,
		categories: categories,
	}
}

func (v *TallyValidator) Validate(ctx context.Context, t domain.Tally, mode ValidationMode) error {
	if err := CheckNumbers(t, v.categories); err != nil {
		return err
	}

	table, err := v.tables.GetTable(ctx, t.TableID)
	if err != nil {
		return fmt.Errorf("failed to look up table %d: %w", t.TableID, err)
	}
	if _, err := v.tables.GetSchool(ctx, t.SchoolID); err != nil {
		return fmt.Errorf("failed to look up school %d: %w", t.SchoolID, err)
	}
	if table.SchoolID != t.SchoolID {
		return domain.NewTableSchoolMismatch(t.TableID, t.SchoolID, table.SchoolID)
	}

	existing, err := v.tallies.FindByTableAndElection(ctx, t.TableID, t.ElectionTypeID)
	if err != nil {
		return fmt.Errorf("failed to check existing tally: %w", err)
	}
	if existing != nil && (mode == ValidateCreate || existing.ID != t.ID) {
		return domain.NewDuplicateTally(t.TableID, t.ElectionTypeID, existing.ID)
	}

	return nil
}

// CheckNumbers runs the checks that need no store lookups. Each count is
// bounded by the voters and the sum is taken with overflow detection.
func CheckNumbers(t domain.Tally, categories domain.Categories) error {
	if t.TotalVoters < 0 {
		return domain.NewInvalidNumeric("total_voters", t.TotalVoters)
	}
	if t.TotalRegisteredVoters < 0 {
		return domain.NewInvalidNumeric("total_registered_voters", t.TotalRegisteredVoters)
	}
	for _, category := range categories {
		if n := t.Votes[category]; n < 0 {
			return domain.NewInvalidNumeric(category, n)
		}
	}
	if unknown := categories.Unknown(t.Votes); len(unknown) > 0 {
		return domain.NewInvalidNumeric(unknown[0], t.Votes[unknown[0]])
	}

	if t.TotalVoters > t.TotalRegisteredVoters {
		return domain.NewVoterCountExceedsRoll(t.TotalVoters, t.TotalRegisteredVoters)
	}

	for _, category := range categories {
		if n := t.Votes[category]; n > t.TotalVoters {
			return domain.NewCountAboveTotal(category, n, t.TotalVoters)
		}
	}
	sum, ok := t.Votes.CheckedSum()
	if !ok {
		return domain.NewCountAboveTotal("votes", sum, t.TotalVoters)
	}
	if sum != t.TotalVoters {
		return domain.NewVoteSumMismatch(t.TotalVoters, sum)
	}
	return nil
}
