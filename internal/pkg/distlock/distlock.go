// Package distlock provides a mutual-exclusion lock shared between
// processes. Redis is preferred; PostgreSQL advisory locks are the fallback.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is one lock holder. An instance must not be shared by
// goroutines that may hold it at the same time; use a Factory instead.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire unless refreshed.
type Extender interface {
	Extend(ctx context.Context) (bool, error)
	RefreshInterval() time.Duration
}

// ErrLockLost is the cancellation cause WithLock sets on fn's context when an
// expiring lock passes to another holder mid-run.
var ErrLockLost = errors.New("distributed lock lost")

// Factory returns a fresh lock holder for every call.
type Factory func() DistLock

// NewLock creates a lock on the best available backend.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// NewFactory binds NewLock's arguments.
func NewFactory(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Factory {
	return func() DistLock { return NewLock(redisClient, db, key, ttl) }
}

// WithLock runs fn while holding l. It reports false without calling fn
// when another holder owns the lock. Expiring locks are refreshed while fn
// runs; if one is lost, fn's context is cancelled with ErrLockLost.
func WithLock(ctx context.Context, l DistLock, fn func(context.Context) error) (bool, error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// release even if ctx was cancelled mid-run
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.Release(relCtx)
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if ext, ok := l.(Extender); ok {
		stop := keepAlive(runCtx, ext, cancel)
		defer stop()
	}
	return true, fn(runCtx)
}

func keepAlive(ctx context.Context, l Extender, lost context.CancelCauseFunc) (stop func()) {
	interval := l.RefreshInterval()
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				held, err := l.Extend(ctx)
				if err != nil {
					// try again next tick; the TTL still covers us
					continue
				}
				if !held {
					lost(ErrLockLost)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// database session, so the holder pins one pooled connection from Acquire
// until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this holder", l.lockID)
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
