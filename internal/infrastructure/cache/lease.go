package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockPrefix namespaces lease keys.
const DefaultLockPrefix = "lock:"

// RedisLocker hands out leases shared by every instance pointing at the same Redis.
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker creates a locker on a shared client
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), prefix: DefaultLockPrefix}
}

// Obtain tries once; a held key returns shared.ErrLockNotObtained.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

// Refresh extends the lease; once it expired the key may belong to someone else.
func (r redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	err := r.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return shared.ErrLockNotHeld
	}
	return err
}

// Release drops the lease. A lease that already expired is not an error.
func (r redisLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// InMemoryLocker is the single-process fallback of RedisLocker.
type InMemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewInMemoryLocker creates an empty locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: make(map[string]memoryLease), now: time.Now}
}

// Obtain grants key when it is free or its previous lease expired
func (l *InMemoryLocker) Obtain(_ context.Context, key string, ttl time.Duration) (shared.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiresAt) {
		return nil, shared.ErrLockNotObtained
	}
	lease := memoryLease{token: uuid.NewString(), expiresAt: now.Add(ttl)}
	l.held[key] = lease
	return &memoryLock{locker: l, key: key, token: lease.token}, nil
}

type memoryLock struct {
	locker *InMemoryLocker
	key    string
	token  string
}

// Refresh extends the lease while it is still the live one for the key
func (m *memoryLock) Refresh(_ context.Context, ttl time.Duration) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	now := m.locker.now()
	cur, ok := m.locker.held[m.key]
	if !ok || cur.token != m.token || !now.Before(cur.expiresAt) {
		return shared.ErrLockNotHeld
	}
	cur.expiresAt = now.Add(ttl)
	m.locker.held[m.key] = cur
	return nil
}

// Release frees the key if this lease still owns it
func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if cur, ok := m.locker.held[m.key]; ok && cur.token == m.token {
		delete(m.locker.held, m.key)
	}
	return nil
}

var (
	_ shared.Locker = (*RedisLocker)(nil)
	_ shared.Locker = (*InMemoryLocker)(nil)
)
