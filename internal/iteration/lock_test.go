package iteration

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

func TestFileLocker_Exclusive(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Create("it", "", 5)
	require.NoError(t, err)
	locker := NewFileLocker(store)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "it")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "it")
	assert.ErrorIs(t, err, errors.ErrIterationLocked)

	require.NoError(t, release(ctx))

	release, err = locker.Acquire(ctx, "it")
	require.NoError(t, err)
	assert.NoError(t, release(ctx))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, WithPrefix("test:"), WithTTL(time.Minute))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "it")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:iteration:it"))

	_, err = NewRedisLocker(client, WithPrefix("test:")).Acquire(ctx, "it")
	assert.ErrorIs(t, err, errors.ErrIterationLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:lock:iteration:it"))
}

func TestRedisLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, WithTTL(time.Second))

	oldRelease, err := locker.Acquire(ctx, "it")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("roundtable:lock:iteration:it"))

	newRelease, err := locker.Acquire(ctx, "it")
	require.NoError(t, err)

	require.NoError(t, oldRelease(ctx))
	assert.True(t, mr.Exists("roundtable:lock:iteration:it"), "stale holder released the new lock")

	require.NoError(t, newRelease(ctx))
	assert.False(t, mr.Exists("roundtable:lock:iteration:it"))
}

func TestRedisLocker_ServerDown(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLocker(client).Acquire(context.Background(), "it")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrIterationLocked)
}
