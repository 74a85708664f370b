package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
)

type advisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker returns a Locker backed by session-level advisory locks.
// The lock lives on a dedicated connection held until unlock.
func NewAdvisoryLocker(db *sql.DB) ports.Locker {
	return &advisoryLocker{
		db: db,
	}
}

func (l *advisoryLocker) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	id := lockID(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to try advisory lock %q: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return nil, domain.ErrLockHeld
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, id).Scan(&released); err != nil {
			return fmt.Errorf("failed to release advisory lock %q: %w", name, err)
		}
		if !released {
			return fmt.Errorf("advisory lock %q was not held", name)
		}
		return nil
	}, nil
}

func lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
