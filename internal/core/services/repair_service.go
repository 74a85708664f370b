package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/metrics"
	"go.uber.org/zap"
)

const RepairLockName = "mesa-numbering-repair"

type RepairConfig struct {
	// MaxTablesCreated bounds shortfall creation per run. 0 means no bound.
	MaxTablesCreated int
}

type repairService struct {
	tables     ports.TableRepository
	reconciler ports.Reconciler
	locker     ports.Locker
	logger     *zap.Logger
	cfg        RepairConfig
}

func NewRepairService(tables ports.TableRepository, reconciler ports.Reconciler, locker ports.Locker, logger *zap.Logger, cfg RepairConfig) ports.RepairService {
	return &repairService{
		tables:     tables,
		reconciler: reconciler,
		locker:     locker,
		logger:     logger,
		cfg:        cfg,
	}
}

// Repair restores the numbering invariant: tables ordered by (school ID, number)
// carry exactly 1..N and every school owns its quota. Each school is applied in
// its own transaction; a failed school is reported and the sweep moves on.
func (s *repairService) Repair(ctx context.Context) (domain.RepairReport, error) {
	return s.run(ctx, true)
}

// Preview computes the report Repair would produce without writing anything.
func (s *repairService) Preview(ctx context.Context) (domain.RepairReport, error) {
	return s.run(ctx, false)
}

func (s *repairService) run(ctx context.Context, apply bool) (domain.RepairReport, error) {
	var report domain.RepairReport

	unlock, err := s.locker.TryLock(ctx, RepairLockName)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return report, domain.ErrRepairInProgress
		}
		return report, fmt.Errorf("failed to acquire repair lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release repair lock", zap.Error(err))
		}
	}()

	schools, err := s.tables.ListSchools(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list schools: %w", err)
	}

	cur := newNumberingCursor(s.cfg.MaxTablesCreated)
	affected := make(map[string]domain.DistrictKey)

	for _, school := range schools {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("repair interrupted after %d schools: %w", report.SchoolsProcessed, err)
		}
		report.SchoolsProcessed++
		first := cur.next

		tables, err := s.tables.ListTablesBySchool(ctx, school.ID)
		if err != nil {
			// Keep later schools on the numbers a successful run would give them.
			cur.next += max(school.ExpectedTableCount, 0)
			report.Schools = append(report.Schools, s.failed(school, 0, err))
			continue
		}

		var plan domain.SchoolPlan
		plan, cur = planSchool(cur, school, tables)
		row := domain.SchoolRepair{
			SchoolID:     school.ID,
			Quota:        school.ExpectedTableCount,
			TablesBefore: len(tables),
			Shortfall:    plan.Shortfall,
			Status:       domain.RepairOK,
		}
		if plan.Allocated > 0 {
			row.FirstNumber = first
			row.LastNumber = first + plan.Allocated - 1
		}
		if plan.Shortfall > 0 {
			row.Status = domain.RepairUnderQuotaLimit
		}

		if apply && !plan.Empty() {
			applied, err := s.tables.ApplySchoolPlan(ctx, plan)
			if err != nil {
				report.Schools = append(report.Schools, s.failed(school, len(tables), err))
				continue
			}
			row.TalliesDeleted = applied.TalliesDeleted
			for _, key := range applied.AffectedKeys {
				key = key.Normalize()
				affected[key.String()] = key
			}
		}

		row.Renumbered = len(plan.Renumber)
		row.Created = len(plan.Create)
		row.Deleted = len(plan.Delete)
		report.TablesRenumbered += row.Renumbered
		report.TablesCreated += row.Created
		report.TablesDeleted += row.Deleted
		report.TalliesDeleted += row.TalliesDeleted
		report.Schools = append(report.Schools, row)

		if apply {
			metrics.RepairTablesTotal.WithLabelValues("renumbered").Add(float64(row.Renumbered))
			metrics.RepairTablesTotal.WithLabelValues("created").Add(float64(row.Created))
			metrics.RepairTablesTotal.WithLabelValues("deleted").Add(float64(row.Deleted))
		}
	}

	report.AggregatesReconciled = s.reconcileAffected(ctx, affected)

	s.logger.Info("table numbering repair finished",
		zap.Bool("applied", apply),
		zap.Int("schools", report.SchoolsProcessed),
		zap.Int("renumbered", report.TablesRenumbered),
		zap.Int("created", report.TablesCreated),
		zap.Int("deleted", report.TablesDeleted),
		zap.Int("tallies_deleted", report.TalliesDeleted),
		zap.Int("under_quota", len(report.UnderQuota())),
		zap.Int("failed", len(report.Failed())))

	return report, nil
}

func (s *repairService) failed(school domain.School, tablesBefore int, err error) domain.SchoolRepair {
	metrics.RepairSchoolFailuresTotal.Inc()
	s.logger.Error("school repair failed", zap.Int64("school_id", school.ID), zap.Error(err))
	return domain.SchoolRepair{
		SchoolID:     school.ID,
		Quota:        school.ExpectedTableCount,
		TablesBefore: tablesBefore,
		Shortfall:    max(school.ExpectedTableCount-tablesBefore, 0),
		Status:       domain.RepairWriteFailed,
		Error:        err.Error(),
	}
}

// reconcileAffected refreshes the aggregates that lost tallies with deleted tables.
func (s *repairService) reconcileAffected(ctx context.Context, affected map[string]domain.DistrictKey) int {
	names := make([]string, 0, len(affected))
	for name := range affected {
		names = append(names, name)
	}
	sort.Strings(names)

	reconciled := 0
	for _, name := range names {
		key := affected[name]
		if err := s.reconciler.Reconcile(ctx, key); err != nil {
			s.logger.Error("aggregate left stale after repair", zap.Stringer("key", key), zap.Error(err))
			continue
		}
		reconciled++
	}
	return reconciled
}
