package iteration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

// ReleaseFunc releases a held session lock.
type ReleaseFunc func(ctx context.Context) error

// Locker grants one session at a time per iteration. Acquire never waits:
// a held lock is reported as ErrIterationLocked.
type Locker interface {
	Acquire(ctx context.Context, id string) (ReleaseFunc, error)
}

const sessionLock = "session.lock"

// FileLocker locks iterations with flock on a file in the iteration
// directory. It protects a single host.
type FileLocker struct {
	store *FileStore
}

// NewFileLocker creates a FileLocker over the directories of store.
func NewFileLocker(store *FileStore) *FileLocker {
	return &FileLocker{store: store}
}

// Acquire implements Locker.
func (l *FileLocker) Acquire(_ context.Context, id string) (ReleaseFunc, error) {
	fl := NewFileLock(filepath.Join(l.store.Dir(id), sessionLock))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewIterationError("another session is running", errors.ErrIterationLocked).WithIterationID(id)
	}
	return func(context.Context) error { return fl.Unlock() }, nil
}

// releaseScript deletes the key only if it still holds our token, so that an
// expired lock re-acquired by someone else is not released by us.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker locks iterations with SET NX PX, for state directories shared
// between hosts.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithPrefix sets the key prefix (default "roundtable:").
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

// WithTTL sets how long a lock survives a holder that never releases it
// (default one hour).
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewRedisLocker creates a RedisLocker on client.
func NewRedisLocker(client *redis.Client, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, prefix: "roundtable:", ttl: time.Hour}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) key(id string) string {
	return l.prefix + "lock:iteration:" + id
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, id string) (ReleaseFunc, error) {
	key := l.key(id)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.NewIterationError("another session is running", errors.ErrIterationLocked).WithIterationID(id)
	}
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release lock: %w", err)
		}
		return nil
	}, nil
}

var (
	_ Locker = (*FileLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
