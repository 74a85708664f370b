package domain

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

// Votes maps a vote category to its count.
type Votes map[string]int64

func (v Votes) Sum() int64 {
	var total int64
	for _, n := range v {
		total += n
	}
	return total
}

// CheckedSum adds the counts in v. ok is false when the total leaves the int64
// range.
func (v Votes) CheckedSum() (sum int64, ok bool) {
	for _, n := range v {
		if sum, ok = addCount(sum, n); !ok {
			return sum, false
		}
	}
	return sum, true
}

// addCount adds b to a, saturating at the int64 bounds on overflow.
func addCount(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64, false
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64, false
	}
	return a + b, true
}

func (v Votes) Clone() Votes {
	out := make(Votes, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

type Tally struct {
	ID                    uuid.UUID `json:"id"`
	Date                  time.Time `json:"date"`
	ElectionTypeID        int64     `json:"election_type_id"`
	SchoolID              int64     `json:"school_id"`
	TableID               int64     `json:"table_id"`
	TotalVoters           int64     `json:"total_voters"`
	TotalRegisteredVoters int64     `json:"total_registered_voters"`
	Votes                 Votes     `json:"votes"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Categories is the configured, ordered set of vote categories.
type Categories []string

var DefaultCategories = Categories{"party_a", "party_b", "other", "null", "blank"}

func ParseCategories(raw string) (Categories, error) {
	seen := make(map[string]bool)
	var out Categories
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one vote category is required")
	}
	return out, nil
}

func (c Categories) Contains(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

// Unknown returns the categories in v that are not configured, sorted.
func (c Categories) Unknown(v Votes) []string {
	var out []string
	for name := range v {
		if !c.Contains(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
