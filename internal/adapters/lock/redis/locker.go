package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type locker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewLocker returns a Locker holding each lock as a key with ttl. The key is
// extended every ttl/3 while held, so ttl bounds how long a crashed holder
// blocks others, not how long a repair may run.
func NewLocker(client goredis.UniversalClient, ttl time.Duration) ports.Locker {
	return &locker{
		client: client,
		ttl:    ttl,
	}
}

func (l *locker) TryLock(ctx context.Context, name string) (func(context.Context) error, error) {
	key := keyPrefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to set lock key %q: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go l.renew(renewCtx, key, token, done)

	var stopOnce sync.Once
	return func(ctx context.Context) error {
		stopOnce.Do(func() {
			stop()
			<-done
		})

		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to release lock key %q: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("lock key %q expired before release", key)
		}
		return nil
	}, nil
}

// renew pushes the expiry of key forward until ctx ends or the key no longer
// carries token.
func (l *locker) renew(ctx context.Context, key, token string, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				return
			}
		}
	}
}
