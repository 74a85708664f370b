package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRepair(t *testing.T, env *testEnv, maxCreates int) ports.RepairService {
	return NewRepairService(memTables{env.store}, env.reconciler, env.locker, zaptest.NewLogger(t), RepairConfig{MaxTablesCreated: maxCreates})
}

// seedTwoSchools builds school A (quota 3, tables numbered 10..14) and
// school B (quota 2, no tables).
func seedTwoSchools(env *testEnv) {
	env.store.addSchool(1, 1, 0, 3)
	env.store.addSchool(2, 1, 0, 2)
	for n := 10; n <= 14; n++ {
		env.store.addTable(int64(n), 1, n)
	}
}

func TestRepair_TwoSchools(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)

	report, err := newRepair(t, env, 0).Repair(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[int64][]int{1: {1, 2, 3}, 2: {4, 5}}, env.store.numbersBySchool())
	assert.Equal(t, 2, report.SchoolsProcessed)
	assert.Equal(t, 3, report.TablesRenumbered)
	assert.Equal(t, 2, report.TablesDeleted)
	assert.Equal(t, 2, report.TablesCreated)
	assert.Empty(t, report.UnderQuota())

	require.Len(t, report.Schools, 2)
	assert.Equal(t, 1, report.Schools[0].FirstNumber)
	assert.Equal(t, 3, report.Schools[0].LastNumber)
	assert.Equal(t, 4, report.Schools[1].FirstNumber)
	assert.Equal(t, 5, report.Schools[1].LastNumber)
	assert.False(t, env.locker.isHeld(RepairLockName))
}

func TestRepair_SecondRunIsNoop(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	svc := newRepair(t, env, 0)

	_, err := svc.Repair(context.Background())
	require.NoError(t, err)

	report, err := svc.Repair(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TablesRenumbered+report.TablesCreated+report.TablesDeleted)
}

func TestPreview_WritesNothing(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	before := env.store.numbersBySchool()

	report, err := newRepair(t, env, 0).Preview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, before, env.store.numbersBySchool())
	assert.Equal(t, 3, report.TablesRenumbered)
	assert.Equal(t, 2, report.TablesDeleted)
	assert.Equal(t, 2, report.TablesCreated)
}

func TestRepair_CreationLimitReportsUnderQuota(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	env.store.addSchool(3, 1, 0, 2)

	report, err := newRepair(t, env, 1).Repair(context.Background())
	require.NoError(t, err)

	under := report.UnderQuota()
	require.Len(t, under, 2)
	assert.Equal(t, int64(2), under[0].SchoolID)
	assert.Equal(t, 1, under[0].Shortfall)
	assert.Equal(t, domain.RepairUnderQuotaLimit, under[0].Status)
	assert.Equal(t, int64(3), under[1].SchoolID)
	assert.Equal(t, 2, under[1].Shortfall)
	assert.Equal(t, map[int64][]int{1: {1, 2, 3}, 2: {4}}, env.store.numbersBySchool())
	assert.Empty(t, report.Failed())
}

func TestRepair_FailedSchoolDoesNotStopRun(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	env.store.addSchool(3, 1, 0, 1)
	env.store.addTable(30, 3, 77)
	env.store.applyFailures[2] = errors.New("deadlock detected")

	report, err := newRepair(t, env, 0).Repair(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Schools, 3)
	assert.Equal(t, domain.RepairOK, report.Schools[0].Status)
	assert.Equal(t, domain.RepairWriteFailed, report.Schools[1].Status)
	assert.Contains(t, report.Schools[1].Error, "deadlock")
	assert.Equal(t, 2, report.Schools[1].Shortfall)
	assert.Equal(t, domain.RepairOK, report.Schools[2].Status)
	assert.Empty(t, report.UnderQuota())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, int64(2), report.Failed()[0].SchoolID)

	// School 3 still gets the number it would have had after a clean run.
	assert.Equal(t, []int{6}, env.store.numbersBySchool()[3])

	delete(env.store.applyFailures, 2)
	_, err = newRepair(t, env, 0).Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64][]int{1: {1, 2, 3}, 2: {4, 5}, 3: {6}}, env.store.numbersBySchool())
}

func TestRepair_ListFailureKeepsLaterNumbering(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	env.store.listFailures[1] = errors.New("connection refused")

	report, err := newRepair(t, env, 0).Repair(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RepairWriteFailed, report.Schools[0].Status)
	assert.Equal(t, []int{4, 5}, env.store.numbersBySchool()[2])
}

func TestRepair_LockHeld(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	unlock, err := env.locker.TryLock(context.Background(), RepairLockName)
	require.NoError(t, err)

	_, err = newRepair(t, env, 0).Repair(context.Background())
	assert.ErrorIs(t, err, domain.ErrRepairInProgress)
	assert.Equal(t, []int{10, 11, 12, 13, 14}, env.store.numbersBySchool()[1])

	require.NoError(t, unlock(context.Background()))
	_, err = newRepair(t, env, 0).Repair(context.Background())
	assert.NoError(t, err)
}

func TestRepair_LockBackendError(t *testing.T) {
	env := newTestEnv(t)
	env.locker.tryErr = errors.New("redis: connection pool timeout")

	_, err := newRepair(t, env, 0).Repair(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRepairInProgress)
}

func TestRepair_DeletedTablesTakeTalliesAndRefreshAggregates(t *testing.T) {
	env := newTestEnv(t)
	seedTwoSchools(env)
	ctx := context.Background()

	kept := seedTally(t, env.store, 10, 1, votes(10, 0, 0, 0, 0))
	seedTally(t, env.store, 14, 1, votes(5, 0, 0, 0, 0))
	require.NoError(t, env.reconciler.Reconcile(ctx, districtKey(1)))
	agg, _ := env.store.aggregate(districtKey(1))
	require.Equal(t, int64(15), agg.TotalVoters)

	report, err := newRepair(t, env, 0).Repair(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TalliesDeleted)
	assert.Equal(t, 1, report.AggregatesReconciled)
	assert.Len(t, env.store.tallies, 1)
	assert.Contains(t, env.store.tallies, kept.ID)

	agg, _ = env.store.aggregate(districtKey(1))
	assert.Equal(t, int64(10), agg.TotalVoters)
	assert.Equal(t, 1, agg.TablesReported)
}
