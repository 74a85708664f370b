package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTallyNotFound     = errors.New("tally not found")
	ErrInvalidTallyID    = errors.New("invalid tally id")
	ErrTableNotFound     = errors.New("table not found")
	ErrSchoolNotFound    = errors.New("school not found")
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrValidation        = errors.New("invalid tally")
	ErrLockHeld          = errors.New("lock is held by another process")
	ErrRepairInProgress  = errors.New("table numbering repair already in progress")
	ErrCountOverflow     = errors.New("vote count overflows int64")
	ErrInternal          = errors.New("internal server error")
)

type ValidationKind string

const (
	InvalidNumeric        ValidationKind = "invalid_numeric"
	VoterCountExceedsRoll ValidationKind = "voter_count_exceeds_roll"
	VoteSumMismatch       ValidationKind = "vote_sum_mismatch"
	TableSchoolMismatch   ValidationKind = "table_school_mismatch"
	DuplicateTally        ValidationKind = "duplicate_tally"
)

// ValidationError is a rejected tally. Only the fields relevant to Kind are set.
type ValidationError struct {
	Kind ValidationKind

	Field string
	Value int64
	// AboveTotal marks an InvalidNumeric count that exceeds Expected voters.
	AboveTotal bool

	Expected int64
	Actual   int64

	TableID        int64
	SchoolID       int64
	OwnerSchoolID  int64
	ElectionTypeID int64
	ExistingID     uuid.UUID
}

func NewInvalidNumeric(field string, value int64) *ValidationError {
	return &ValidationError{Kind: InvalidNumeric, Field: field, Value: value}
}

// NewCountAboveTotal rejects a vote count larger than the tally's voters.
func NewCountAboveTotal(field string, value, totalVoters int64) *ValidationError {
	return &ValidationError{Kind: InvalidNumeric, Field: field, Value: value, Expected: totalVoters, AboveTotal: true}
}

func NewVoterCountExceedsRoll(voters, registered int64) *ValidationError {
	return &ValidationError{Kind: VoterCountExceedsRoll, Actual: voters, Expected: registered}
}

func NewVoteSumMismatch(expected, actual int64) *ValidationError {
	return &ValidationError{Kind: VoteSumMismatch, Expected: expected, Actual: actual}
}

func NewTableSchoolMismatch(tableID, schoolID, ownerSchoolID int64) *ValidationError {
	return &ValidationError{Kind: TableSchoolMismatch, TableID: tableID, SchoolID: schoolID, OwnerSchoolID: ownerSchoolID}
}

func NewDuplicateTally(tableID, electionTypeID int64, existingID uuid.UUID) *ValidationError {
	return &ValidationError{Kind: DuplicateTally, TableID: tableID, ElectionTypeID: electionTypeID, ExistingID: existingID}
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case InvalidNumeric:
		if e.AboveTotal {
			return fmt.Sprintf("%s (%d) exceeds total voters (%d)", e.Field, e.Value, e.Expected)
		}
		if e.Value < 0 {
			return fmt.Sprintf("%s must not be negative (got %d)", e.Field, e.Value)
		}
		return fmt.Sprintf("%s is not a configured vote category", e.Field)
	case VoterCountExceedsRoll:
		return fmt.Sprintf("total voters (%d) exceed registered voters (%d)", e.Actual, e.Expected)
	case VoteSumMismatch:
		return fmt.Sprintf("sum of votes (%d) does not match total voters (%d)", e.Actual, e.Expected)
	case TableSchoolMismatch:
		return fmt.Sprintf("table %d belongs to school %d, not school %d", e.TableID, e.OwnerSchoolID, e.SchoolID)
	case DuplicateTally:
		return fmt.Sprintf("table %d already has a tally for election type %d", e.TableID, e.ElectionTypeID)
	}
	return string(e.Kind)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Details returns the structured payload of the error, keyed for API responses.
func (e *ValidationError) Details() map[string]any {
	switch e.Kind {
	case InvalidNumeric:
		if e.AboveTotal {
			return map[string]any{"field": e.Field, "value": e.Value, "total_voters": e.Expected}
		}
		return map[string]any{"field": e.Field, "value": e.Value}
	case VoterCountExceedsRoll:
		return map[string]any{"total_voters": e.Actual, "total_registered_voters": e.Expected}
	case VoteSumMismatch:
		return map[string]any{"expected": e.Expected, "actual": e.Actual}
	case TableSchoolMismatch:
		return map[string]any{"table_id": e.TableID, "school_id": e.SchoolID, "owner_school_id": e.OwnerSchoolID}
	case DuplicateTally:
		return map[string]any{"table_id": e.TableID, "election_type_id": e.ElectionTypeID, "existing_id": e.ExistingID}
	}
	return nil
}
