package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/metrics"
	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type ReconcilerConfig struct {
	Workers int
	Retry   RetryConfig
}

type reconciler struct {
	tallies    ports.TallyRepository
	aggregates ports.AggregateRepository
	logger     *zap.Logger
	cfg        ReconcilerConfig
	keyLocks   *xsync.Map[string, *keyLock]
}

// keyLock serializes reconciles of one key. refs counts holders and waiters;
// the entry is dropped when it reaches zero.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewReconciler(tallies ports.TallyRepository, aggregates ports.AggregateRepository, logger *zap.Logger, cfg ReconcilerConfig) ports.Reconciler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &reconciler{
		tallies:    tallies,
		aggregates: aggregates,
		logger:     logger,
		cfg:        cfg,
		keyLocks:   xsync.NewMap[string, *keyLock](),
	}
}

// Reconcile recomputes the aggregate for key from every contributing tally and
// writes it with a single upsert. A key without tallies has its aggregate removed.
func (r *reconciler) Reconcile(ctx context.Context, key domain.DistrictKey) error {
	key = key.Normalize()
	start := time.Now()

	unlock := r.lockKey(key.String())
	defer unlock()

	var result string
	err := withBackoff(ctx, r.cfg.Retry, r.logger, "reconcile "+key.String(), func() error {
		var err error
		result, err = r.reconcileOnce(ctx, key)
		return err
	})
	metrics.ReconcileDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ReconcileTotal.WithLabelValues(result).Inc()
	r.logger.Debug("aggregate reconciled", zap.Stringer("key", key), zap.String("result", result))
	return nil
}

func (r *reconciler) lockKey(name string) func() {
	l, _ := r.keyLocks.Compute(name, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
		if !loaded {
			old = &keyLock{}
		}
		old.refs++
		return old, xsync.UpdateOp
	})
	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.keyLocks.Compute(name, func(old *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
			old.refs--
			if old.refs == 0 {
				return old, xsync.DeleteOp
			}
			return old, xsync.UpdateOp
		})
	}
}

func (r *reconciler) reconcileOnce(ctx context.Context, key domain.DistrictKey) (string, error) {
	tallies, err := r.tallies.ListByDistrictKey(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load tallies for %s: %w", key, err)
	}

	agg, ok, err := domain.SumTallies(key, tallies)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := r.aggregates.Delete(ctx, key); err != nil {
			return "", fmt.Errorf("failed to delete empty aggregate %s: %w", key, err)
		}
		return "deleted", nil
	}

	if err := r.aggregates.Upsert(ctx, &agg); err != nil {
		return "", fmt.Errorf("failed to upsert aggregate %s: %w", key, err)
	}
	return "upserted", nil
}

func (r *reconciler) Aggregate(ctx context.Context, key domain.DistrictKey) (*domain.DistrictAggregate, error) {
	return r.aggregates.Get(ctx, key.Normalize())
}

// ReconcileAll reconciles every key that has tallies or a stored aggregate.
// Failures are collected per key; the sweep always visits every key.
func (r *reconciler) ReconcileAll(ctx context.Context) (domain.SweepReport, error) {
	keys, err := r.sweepKeys(ctx)
	if err != nil {
		return domain.SweepReport{}, err
	}

	report := domain.SweepReport{KeysVisited: len(keys)}
	var mu sync.Mutex

	pool := pond.NewPool(r.cfg.Workers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, key := range keys {
		group.Submit(func() {
			err := groupCtx.Err()
			if err == nil {
				err = r.Reconcile(groupCtx, key)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, domain.KeyFailure{Key: key, Error: err.Error()})
				return
			}
			report.KeysReconciled++
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("reconcile sweep group error", zap.Error(err))
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Key.String() < report.Failures[j].Key.String()
	})

	r.logger.Info("reconcile sweep finished",
		zap.Int("keys", report.KeysVisited),
		zap.Int("reconciled", report.KeysReconciled),
		zap.Int("failed", len(report.Failures)))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("reconcile sweep interrupted: %w", err)
	}
	return report, nil
}

func (r *reconciler) sweepKeys(ctx context.Context) ([]domain.DistrictKey, error) {
	fromTallies, err := r.tallies.DistinctKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tally keys: %w", err)
	}
	fromAggregates, err := r.aggregates.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate keys: %w", err)
	}

	seen := make(map[string]bool)
	var keys []domain.DistrictKey
	for _, key := range append(fromTallies, fromAggregates...) {
		key = key.Normalize()
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		keys = append(keys, key)
	}
	return keys, nil
}
