package backup

import (
	"context"
	"fmt"
	"time"
)

// Lease describes a held run lock
type Lease struct {
	Resource   string    `json:"resource"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Locker serializes orchestration runs per source. Leases carry a TTL so a
// crashed holder cannot block future runs; holders renew while working.
type Locker interface {
	// Acquire takes the lock for resource. It fails fast with a lock
	// contention error if another owner holds an unexpired lease.
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error)

	// Renew extends the lease held by owner
	Renew(ctx context.Context, resource, owner string, ttl time.Duration) (*Lease, error)

	// Release drops the lease held by owner. Releasing a lock held by
	// someone else is an error.
	Release(ctx context.Context, resource, owner string) error

	// Get returns the current lease for resource, or nil if unheld
	Get(ctx context.Context, resource string) (*Lease, error)
}

// NewLocker creates a locker based on the lock configuration
func NewLocker(config LockConfig) (Locker, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid lock configuration", err)
	}

	switch config.Provider {
	case LockProviderLocal:
		return NewFileLocker(config.Dir)
	case LockProviderRedis:
		return NewRedisLocker(config.RedisURL)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported lock provider: %s", config.Provider), nil)
	}
}
