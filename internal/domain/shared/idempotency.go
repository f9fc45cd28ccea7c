package shared

import (
	"context"
	"errors"
	"time"
)

// IdempotencyStore remembers keys that were already handled.
type IdempotencyStore interface {
	// MarkProcessed records key for ttl. It returns false when key was already recorded.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IsProcessed reports whether key is recorded and not expired
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Close releases resources
	Close() error
}

// ErrLockNotObtained is returned when another holder owns the lock.
var ErrLockNotObtained = errors.New("lock: not obtained")

// ErrLockNotHeld is returned when refreshing a lease that expired or moved to another holder.
var ErrLockNotHeld = errors.New("lock: not held")

// Lock is a held lease. It expires on its own after the TTL it was obtained with.
type Lock interface {
	// Refresh extends the lease to ttl from now, or returns ErrLockNotHeld.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases by key.
type Locker interface {
	// Obtain acquires key for ttl or returns ErrLockNotObtained without waiting.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
