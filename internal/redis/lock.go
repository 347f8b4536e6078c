package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor booking lock not acquired")
)

// Locker is used by the appointment service to serialize bookings per doctor
// across api-server instances.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

// NoopLocker runs fn directly. Used when the database transaction is the only guard.
type NoopLocker struct{}

func (NoopLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

const (
	minLockBackoff = 5 * time.Millisecond
	maxLockBackoff = 100 * time.Millisecond
)

// LockStore holds lock keys. SetNX stores token under key only if key is absent;
// Release deletes key only while it still holds token.
type LockStore interface {
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type redisLockStore struct {
	client *redis.Client
}

func (s redisLockStore) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s redisLockStore) Release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, s.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

type doctorLocker struct {
	store LockStore
	ttl   time.Duration
	wait  time.Duration
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key. A booking that
// finds the key held keeps retrying for up to wait before giving up with ErrLockNotAcquired.
func NewRedisDoctorLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return NewDoctorLocker(redisLockStore{client: client}, ttl, wait)
}

// NewDoctorLocker is NewRedisDoctorLocker over any LockStore.
func NewDoctorLocker(store LockStore, ttl, wait time.Duration) Locker {
	if wait < 0 {
		wait = 0
	}
	return &doctorLocker{store: store, ttl: ttl, wait: wait}
}

func doctorLockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *doctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := doctorLockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even if ctx was cancelled mid-booking
		_ = l.store.Release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire polls SETNX with capped exponential backoff until it wins, the wait budget
// runs out or ctx ends.
func (l *doctorLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := minLockBackoff

	for {
		ok, err := l.store.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrLockNotAcquired
		}
		sleep := min(backoff, remaining)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, maxLockBackoff)
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)
