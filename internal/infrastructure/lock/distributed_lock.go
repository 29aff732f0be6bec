package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Per-user mutual exclusion across service instances.
//
// Acquire: SET key owner NX PX ttl. The ttl bounds how long a crashed holder can
// block others. Release: compare-and-delete in Lua so a holder whose lock already
// expired cannot delete the next holder's lock.

var ErrLockFailed = errors.New("could not acquire lock")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, up to maxRetries attempts.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

func UserLockKey(userID int64) string {
	return fmt.Sprintf("coffeeshop:lock:user:%d", userID)
}

// NewUserLock serialises balance and loyalty mutations for one customer.
func NewUserLock(client *redis.Client, userID int64, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, UserLockKey(userID), uuid.NewString(), ttl)
}

// WithUserLock runs fn while holding the user's lock. A nil client runs fn
// unlocked; the database row locks still serialise the mutation.
func WithUserLock(ctx context.Context, client *redis.Client, userID int64, ttl time.Duration, fn func() error) error {
	if client == nil {
		return fn()
	}

	l := NewUserLock(client, userID, ttl)
	if err := l.Lock(ctx, 50*time.Millisecond, 40); err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer l.Unlock(context.Background())

	return fn()
}
