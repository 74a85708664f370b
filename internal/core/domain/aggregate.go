package domain

import (
	"fmt"
	"time"
)

// NoSubDistrict is the sub-district key of a district without sub-divisions.
const NoSubDistrict int64 = 0

type DistrictKey struct {
	DistrictID     int64     `json:"district_id"`
	SubDistrictID  int64     `json:"sub_district_id"`
	ElectionTypeID int64     `json:"election_type_id"`
	Date           time.Time `json:"date"`
}

func (k DistrictKey) Normalize() DistrictKey {
	k.Date = Day(k.Date)
	return k
}

func (k DistrictKey) String() string {
	return fmt.Sprintf("district=%d/sub=%d/election=%d/date=%s",
		k.DistrictID, k.SubDistrictID, k.ElectionTypeID, k.Date.Format(DateLayout))
}

type DistrictAggregate struct {
	ID int64 `json:"id"`
	DistrictKey
	TotalVoters           int64     `json:"total_voters"`
	TotalRegisteredVoters int64     `json:"total_registered_voters"`
	Votes                 Votes     `json:"votes"`
	TablesReported        int       `json:"tables_reported"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// SumTallies folds the tallies of one key into its aggregate. It reports false
// when there is nothing to sum, and ErrCountOverflow when a total does not fit
// in an int64.
func SumTallies(key DistrictKey, tallies []Tally) (DistrictAggregate, bool, error) {
	agg := DistrictAggregate{DistrictKey: key.Normalize(), Votes: Votes{}}
	if len(tallies) == 0 {
		return agg, false, nil
	}

	var ok bool
	overflow := func(field string) (DistrictAggregate, bool, error) {
		return DistrictAggregate{}, false, fmt.Errorf("%s of %s: %w", field, agg.DistrictKey, ErrCountOverflow)
	}
	for _, t := range tallies {
		if agg.TotalVoters, ok = addCount(agg.TotalVoters, t.TotalVoters); !ok {
			return overflow("total_voters")
		}
		if agg.TotalRegisteredVoters, ok = addCount(agg.TotalRegisteredVoters, t.TotalRegisteredVoters); !ok {
			return overflow("total_registered_voters")
		}
		for category, n := range t.Votes {
			if agg.Votes[category], ok = addCount(agg.Votes[category], n); !ok {
				return overflow(category)
			}
		}
		agg.TablesReported++
	}
	return agg, true, nil
}

// SameTotals compares every summed field, ignoring identity and timestamps.
func (a DistrictAggregate) SameTotals(b DistrictAggregate) bool {
	if a.TotalVoters != b.TotalVoters ||
		a.TotalRegisteredVoters != b.TotalRegisteredVoters ||
		a.TablesReported != b.TablesReported ||
		len(a.Votes) != len(b.Votes) {
		return false
	}
	for k, n := range a.Votes {
		if m, ok := b.Votes[k]; !ok || m != n {
			return false
		}
	}
	return true
}

type KeyFailure struct {
	Key   DistrictKey `json:"key"`
	Error string      `json:"error"`
}

// SweepReport summarizes a bulk reconciliation.
type SweepReport struct {
	KeysVisited    int          `json:"keys_visited"`
	KeysReconciled int          `json:"keys_reconciled"`
	Failures       []KeyFailure `json:"failures,omitempty"`
}
