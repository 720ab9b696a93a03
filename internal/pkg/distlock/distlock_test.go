package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisLock_Exclusive(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "email-queue", time.Minute)
	b := NewRedisLock(client, "email-queue", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	// b does not own the lock, so its release is a no-op
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:email-queue"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:email-queue"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_TTLExpiry(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err := NewRedisLock(client, "k", time.Second).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Extend(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "k", time.Second)
	ok, _ := a.Acquire(ctx)
	require.True(t, ok)
	assert.Equal(t, time.Second/3, a.RefreshInterval())

	mr.FastForward(800 * time.Millisecond)
	held, err := a.Extend(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	mr.FastForward(800 * time.Millisecond)
	assert.True(t, mr.Exists("lock:k"), "extended lock outlives its first TTL")

	mr.FastForward(time.Second)
	held, err = a.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, held, "expired lock cannot be extended")
}

func TestWithLock_SkipsWhenHeld(t *testing.T) {
	client, _ := newRedis(t)
	ctx := context.Background()
	factory := NewFactory(client, nil, "pass", time.Minute)

	holder := factory()
	ok, _ := holder.Acquire(ctx)
	require.True(t, ok)

	called := false
	ran, err := WithLock(ctx, factory(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called)
}

func TestWithLock_ReleasesAfterRun(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()

	wantErr := errors.New("pass failed")
	ran, err := WithLock(ctx, NewRedisLock(client, "pass", time.Minute), func(context.Context) error {
		assert.True(t, mr.Exists("lock:pass"))
		return wantErr
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, mr.Exists("lock:pass"))
}

func TestPGAdvisoryLock_AcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "email-queue")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLock_NotAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "email-queue")
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_RefreshesWhileRunning(t *testing.T) {
	client, mr := newRedis(t)

	ran, err := WithLock(context.Background(), NewRedisLock(client, "pass", 300*time.Millisecond), func(ctx context.Context) error {
		mr.FastForward(250 * time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL("lock:pass") > 200*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond)
		assert.NoError(t, ctx.Err())
		return nil
	})
	assert.True(t, ran)
	assert.NoError(t, err)
	assert.False(t, mr.Exists("lock:pass"))
}

func TestWithLock_CancelsWhenLockLost(t *testing.T) {
	client, mr := newRedis(t)

	var cause error
	ran, err := WithLock(context.Background(), NewRedisLock(client, "pass", 150*time.Millisecond), func(ctx context.Context) error {
		// the TTL lapsed and another worker took over
		require.NoError(t, mr.Set("lock:pass", "other-worker"))
		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
		case <-time.After(2 * time.Second):
		}
		return nil
	})
	assert.True(t, ran)
	assert.NoError(t, err)
	assert.ErrorIs(t, cause, ErrLockLost)

	v, _ := mr.Get("lock:pass")
	assert.Equal(t, "other-worker", v, "release leaves the new holder alone")
}
