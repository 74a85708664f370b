package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errTransient = errors.New("connection reset by peer")

// memStore is an in-memory stand-in for the Postgres schema. The three
// repository views below share it the way the real repositories share a DB.
type memStore struct {
	mu          sync.Mutex
	schools     map[int64]domain.School
	tables      map[int64]domain.Table
	tallies     map[uuid.UUID]domain.Tally
	aggregates  map[string]domain.DistrictAggregate
	nextTableID int64
	nextAggID   int64

	// failures injected by tests
	upsertFailures map[string]int
	applyFailures  map[int64]error
	listFailures   map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		schools:        make(map[int64]domain.School),
		tables:         make(map[int64]domain.Table),
		tallies:        make(map[uuid.UUID]domain.Tally),
		aggregates:     make(map[string]domain.DistrictAggregate),
		nextTableID:    1000,
		upsertFailures: make(map[string]int),
		applyFailures:  make(map[int64]error),
		listFailures:   make(map[int64]error),
	}
}

func (s *memStore) addSchool(id, district, sub int64, quota int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[id] = domain.School{ID: id, Name: fmt.Sprintf("school %d", id), DistrictID: district, SubDistrictID: sub, ExpectedTableCount: quota}
}

func (s *memStore) addTable(id, schoolID int64, number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[id] = domain.Table{ID: id, Number: number, SchoolID: schoolID}
}

func (s *memStore) putAggregate(agg domain.DistrictAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg.DistrictKey = agg.DistrictKey.Normalize()
	s.aggregates[agg.DistrictKey.String()] = agg
}

func (s *memStore) aggregate(key domain.DistrictKey) (domain.DistrictAggregate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[key.Normalize().String()]
	return agg, ok
}

func (s *memStore) numbersBySchool() map[int64][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]int)
	for _, t := range s.tables {
		out[t.SchoolID] = append(out[t.SchoolID], t.Number)
	}
	for id := range out {
		sort.Ints(out[id])
	}
	return out
}

func (s *memStore) keyOf(t domain.Tally) (domain.DistrictKey, bool) {
	school, ok := s.schools[t.SchoolID]
	if !ok {
		return domain.DistrictKey{}, false
	}
	return domain.DistrictKey{
		DistrictID:     school.DistrictID,
		SubDistrictID:  school.SubDistrictID,
		ElectionTypeID: t.ElectionTypeID,
		Date:           t.Date,
	}.Normalize(), true
}

type memTallies struct{ *memStore }

func (r memTallies) Create(_ context.Context, tally *domain.Tally) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tallies {
		if t.TableID == tally.TableID && t.ElectionTypeID == tally.ElectionTypeID {
			return domain.NewDuplicateTally(tally.TableID, tally.ElectionTypeID, t.ID)
		}
	}
	stored := *tally
	stored.Votes = tally.Votes.Clone()
	r.tallies[tally.ID] = stored
	return nil
}

func (r memTallies) GetByID(_ context.Context, id uuid.UUID) (*domain.Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tallies[id]
	if !ok {
		return nil, domain.ErrTallyNotFound
	}
	t.Votes = t.Votes.Clone()
	return &t, nil
}

func (r memTallies) Update(_ context.Context, tally *domain.Tally) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tallies[tally.ID]; !ok {
		return domain.ErrTallyNotFound
	}
	stored := *tally
	stored.Votes = tally.Votes.Clone()
	r.tallies[tally.ID] = stored
	return nil
}

func (r memTallies) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tallies[id]; !ok {
		return domain.ErrTallyNotFound
	}
	delete(r.tallies, id)
	return nil
}

func (r memTallies) FindByTableAndElection(_ context.Context, tableID, electionTypeID int64) (*domain.Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tallies {
		if t.TableID == tableID && t.ElectionTypeID == electionTypeID {
			return &t, nil
		}
	}
	return nil, nil
}

func (r memTallies) ListByDistrictKey(_ context.Context, key domain.DistrictKey) ([]domain.Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := key.Normalize().String()
	var out []domain.Tally
	for _, t := range r.tallies {
		if k, ok := r.keyOf(t); ok && k.String() == want {
			t.Votes = t.Votes.Clone()
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r memTallies) DistinctKeys(_ context.Context) ([]domain.DistrictKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []domain.DistrictKey
	for _, t := range r.tallies {
		k, ok := r.keyOf(t)
		if !ok || seen[k.String()] {
			continue
		}
		seen[k.String()] = true
		out = append(out, k)
	}
	return out, nil
}

type memAggregates struct{ *memStore }

func (r memAggregates) Upsert(_ context.Context, agg *domain.DistrictAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := agg.DistrictKey.String()
	if n := r.upsertFailures[name]; n != 0 {
		if n > 0 {
			r.upsertFailures[name] = n - 1
		}
		return errTransient
	}
	if existing, ok := r.aggregates[name]; ok {
		agg.ID = existing.ID
	} else {
		r.nextAggID++
		agg.ID = r.nextAggID
	}
	agg.UpdatedAt = time.Now()
	stored := *agg
	stored.Votes = agg.Votes.Clone()
	r.aggregates[name] = stored
	return nil
}

func (r memAggregates) Delete(_ context.Context, key domain.DistrictKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aggregates, key.String())
	return nil
}

func (r memAggregates) Get(_ context.Context, key domain.DistrictKey) (*domain.DistrictAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.aggregates[key.String()]
	if !ok {
		return nil, domain.ErrAggregateNotFound
	}
	return &agg, nil
}

func (r memAggregates) Keys(_ context.Context) ([]domain.DistrictKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DistrictKey, 0, len(r.aggregates))
	for _, agg := range r.aggregates {
		out = append(out, agg.DistrictKey)
	}
	return out, nil
}

type memTables struct{ *memStore }

func (r memTables) GetTable(_ context.Context, id int64) (*domain.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	if !ok {
		return nil, domain.ErrTableNotFound
	}
	return &t, nil
}

func (r memTables) GetSchool(_ context.Context, id int64) (*domain.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schools[id]
	if !ok {
		return nil, domain.ErrSchoolNotFound
	}
	return &s, nil
}

func (r memTables) ListSchools(_ context.Context) ([]domain.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.School, 0, len(r.schools))
	for _, s := range r.schools {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memTables) ListTablesBySchool(_ context.Context, schoolID int64) ([]domain.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.listFailures[schoolID]; err != nil {
		return nil, err
	}
	var out []domain.Table
	for _, t := range r.tables {
		if t.SchoolID == schoolID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memTables) ApplySchoolPlan(_ context.Context, plan domain.SchoolPlan) (domain.AppliedPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var applied domain.AppliedPlan
	if err := r.applyFailures[plan.School.ID]; err != nil {
		return applied, err
	}

	for _, t := range plan.Delete {
		for id, tally := range r.tallies {
			if tally.TableID != t.ID {
				continue
			}
			if k, ok := r.keyOf(tally); ok {
				applied.AffectedKeys = append(applied.AffectedKeys, k)
			}
			delete(r.tallies, id)
			applied.TalliesDeleted++
		}
		delete(r.tables, t.ID)
	}
	for _, rn := range plan.Renumber {
		t := r.tables[rn.TableID]
		t.Number = rn.To
		r.tables[rn.TableID] = t
	}
	for _, number := range plan.Create {
		r.nextTableID++
		r.tables[r.nextTableID] = domain.Table{ID: r.nextTableID, Number: number, SchoolID: plan.School.ID}
	}
	return applied, nil
}

type memLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	tryErr error
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) TryLock(_ context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tryErr != nil {
		return nil, l.tryErr
	}
	if l.held[name] {
		return nil, domain.ErrLockHeld
	}
	l.held[name] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		return nil
	}, nil
}

func (l *memLocker) isHeld(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// testEnv wires the services over one memStore.
type testEnv struct {
	store      *memStore
	locker     *memLocker
	validator  *TallyValidator
	reconciler *reconciler
	tallies    *tallyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	logger := zaptest.NewLogger(t)

	validator := NewTallyValidator(memTables{store}, memTallies{store}, domain.DefaultCategories)
	rec, ok := NewReconciler(memTallies{store}, memAggregates{store}, logger, ReconcilerConfig{Workers: 4, Retry: fastRetry()}).(*reconciler)
	require.True(t, ok)
	svc, ok := NewTallyService(memTallies{store}, memTables{store}, validator, rec, logger).(*tallyService)
	require.True(t, ok)

	return &testEnv{
		store:      store,
		locker:     newMemLocker(),
		validator:  validator,
		reconciler: rec,
		tallies:    svc,
	}
}

var electionDay = time.Date(2027, time.October, 24, 0, 0, 0, 0, time.UTC)

func votes(a, b, other, null, blank int64) domain.Votes {
	return domain.Votes{"party_a": a, "party_b": b, "other": other, "null": null, "blank": blank}
}
