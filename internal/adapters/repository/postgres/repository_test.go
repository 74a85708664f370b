package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var electionDay = time.Date(2027, time.October, 24, 0, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sql.DB {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return testutil.SetupPostgres(t)
}

func newTally(schoolID, tableID int64, v domain.Votes) *domain.Tally {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Tally{
		ID:                    uuid.New(),
		Date:                  electionDay,
		ElectionTypeID:        1,
		SchoolID:              schoolID,
		TableID:               tableID,
		TotalVoters:           v.Sum(),
		TotalRegisteredVoters: v.Sum() + 10,
		Votes:                 v,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestTallyRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTallyRepository(db)

	school := testutil.SeedSchool(t, db, 1, 0, 2)
	table := testutil.SeedTable(t, db, school, 1)
	other := testutil.SeedTable(t, db, school, 2)

	tally := newTally(school, table, domain.Votes{"party_a": 100, "blank": 5})
	require.NoError(t, repo.Create(ctx, tally))

	t.Run("get round trips", func(t *testing.T) {
		got, err := repo.GetByID(ctx, tally.ID)
		require.NoError(t, err)
		assert.Equal(t, tally.Votes, got.Votes)
		assert.Equal(t, electionDay, got.Date)
		assert.Equal(t, int64(105), got.TotalVoters)
	})

	t.Run("unique table and election", func(t *testing.T) {
		dup := newTally(school, table, domain.Votes{"party_a": 1})
		err := repo.Create(ctx, dup)

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, domain.DuplicateTally, verr.Kind)
		assert.Equal(t, tally.ID, verr.ExistingID)
	})

	t.Run("unknown table", func(t *testing.T) {
		err := repo.Create(ctx, newTally(school, 999999, domain.Votes{}))
		assert.ErrorIs(t, err, domain.ErrTableNotFound)
	})

	t.Run("find by table", func(t *testing.T) {
		got, err := repo.FindByTableAndElection(ctx, table, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, tally.ID, got.ID)

		got, err = repo.FindByTableAndElection(ctx, other, 1)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update", func(t *testing.T) {
		tally.Votes["blank"] = 6
		tally.TotalVoters = 106
		require.NoError(t, repo.Update(ctx, tally))

		got, err := repo.GetByID(ctx, tally.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(106), got.TotalVoters)
		assert.Equal(t, int64(6), got.Votes["blank"])

		missing := newTally(school, other, domain.Votes{})
		assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrTallyNotFound)
	})

	t.Run("list by key and distinct keys", func(t *testing.T) {
		second := newTally(school, other, domain.Votes{"party_b": 3})
		require.NoError(t, repo.Create(ctx, second))

		key := domain.DistrictKey{DistrictID: 1, ElectionTypeID: 1, Date: electionDay}
		tallies, err := repo.ListByDistrictKey(ctx, key)
		require.NoError(t, err)
		assert.Len(t, tallies, 2)

		keys, err := repo.DistinctKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, key.String(), keys[0].String())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, tally.ID))
		_, err := repo.GetByID(ctx, tally.ID)
		assert.ErrorIs(t, err, domain.ErrTallyNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, tally.ID), domain.ErrTallyNotFound)
	})
}

func TestAggregateRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewAggregateRepository(db)
	key := domain.DistrictKey{DistrictID: 7, SubDistrictID: 2, ElectionTypeID: 1, Date: electionDay}

	_, err := repo.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)

	first := &domain.DistrictAggregate{DistrictKey: key, TotalVoters: 10, TotalRegisteredVoters: 20, Votes: domain.Votes{"party_a": 10}, TablesReported: 1}
	require.NoError(t, repo.Upsert(ctx, first))
	assert.NotZero(t, first.ID)

	second := &domain.DistrictAggregate{DistrictKey: key, TotalVoters: 15, TotalRegisteredVoters: 30, Votes: domain.Votes{"party_a": 12, "blank": 3}, TablesReported: 2}
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.SameTotals(*second))
	assert.Equal(t, electionDay, got.Date)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM district_aggregates`).Scan(&rows))
	assert.Equal(t, 1, rows)

	keys, err := repo.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.String(), keys[0].String())

	require.NoError(t, repo.Delete(ctx, key))
	_, err = repo.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrAggregateNotFound)
}

func TestAggregateRepository_ConcurrentUpsertsKeepOneRow(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewAggregateRepository(db)
	key := domain.DistrictKey{DistrictID: 1, ElectionTypeID: 1, Date: electionDay}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Upsert(ctx, &domain.DistrictAggregate{DistrictKey: key, TotalVoters: 5, Votes: domain.Votes{"x": 5}, TablesReported: 1})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM district_aggregates`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestTableRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTableRepository(db)
	tallies := NewTallyRepository(db)

	a := testutil.SeedSchool(t, db, 1, 0, 3)
	b := testutil.SeedSchool(t, db, 1, 0, 2)
	var tableIDs []int64
	for n := 10; n <= 14; n++ {
		tableIDs = append(tableIDs, testutil.SeedTable(t, db, a, n))
	}
	require.NoError(t, tallies.Create(ctx, newTally(a, tableIDs[4], domain.Votes{"party_a": 4})))

	schools, err := repo.ListSchools(ctx)
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, a, schools[0].ID)

	_, err = repo.GetTable(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrTableNotFound)
	_, err = repo.GetSchool(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrSchoolNotFound)

	tables, err := repo.ListTablesBySchool(ctx, a)
	require.NoError(t, err)
	require.Len(t, tables, 5)

	applied, err := repo.ApplySchoolPlan(ctx, domain.SchoolPlan{
		School: schools[0],
		Delete: tables[3:],
		Renumber: []domain.Renumber{
			{TableID: tables[0].ID, From: 10, To: 1},
			{TableID: tables[1].ID, From: 11, To: 2},
			{TableID: tables[2].ID, From: 12, To: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied.TalliesDeleted)
	require.Len(t, applied.AffectedKeys, 1)
	assert.Equal(t, int64(1), applied.AffectedKeys[0].DistrictID)

	_, err = repo.ApplySchoolPlan(ctx, domain.SchoolPlan{School: schools[1], Create: []int{4, 5}})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, numbers(t, repo, a))
	assert.Equal(t, []int{4, 5}, numbers(t, repo, b))
}

func TestTableRepository_ApplyRollsBackOnFailure(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTableRepository(db)

	a := testutil.SeedSchool(t, db, 1, 0, 2)
	first := testutil.SeedTable(t, db, a, 7)
	school, err := repo.GetSchool(ctx, a)
	require.NoError(t, err)

	_, err = repo.ApplySchoolPlan(ctx, domain.SchoolPlan{
		School: *school,
		Renumber: []domain.Renumber{
			{TableID: first, From: 7, To: 1},
			{TableID: 999999, From: 8, To: 2},
		},
	})
	require.Error(t, err)

	assert.Equal(t, []int{7}, numbers(t, repo, a))
}

func numbers(t *testing.T, repo interface {
	ListTablesBySchool(context.Context, int64) ([]domain.Table, error)
}, schoolID int64) []int {
	t.Helper()
	tables, err := repo.ListTablesBySchool(context.Background(), schoolID)
	require.NoError(t, err)
	out := make([]int, len(tables))
	for i, tb := range tables {
		out[i] = tb.Number
	}
	return out
}

func TestAdvisoryLocker(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	locker := NewAdvisoryLocker(db)

	unlock, err := locker.TryLock(ctx, "mesa-numbering-repair")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "mesa-numbering-repair")
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	otherUnlock, err := locker.TryLock(ctx, "something-else")
	require.NoError(t, err)
	require.NoError(t, otherUnlock(ctx))

	require.NoError(t, unlock(ctx))

	unlock, err = locker.TryLock(ctx, "mesa-numbering-repair")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}
