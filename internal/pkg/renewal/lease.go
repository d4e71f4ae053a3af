package renewal

import (
	"time"

	"github.com/memberloop/memberpay/internal/pkg/cache"
)

// RunLease is a cross-process guard around a renewal pass. The in-process
// mutex already prevents the scheduled and manual triggers of one process
// from overlapping; the lease extends that to multi-instance deployments.
type RunLease interface {
	Acquire(ttl time.Duration) (bool, error)
	Release() error
}

const runLockKey = "renewal:run-lock"

type cacheLease struct{}

// NewCacheLease returns a Redis-backed run lease. Acquisition is best
// effort: the TTL bounds how long a crashed holder can block other
// instances.
func NewCacheLease() RunLease {
	return cacheLease{}
}

func (cacheLease) Acquire(ttl time.Duration) (bool, error) {
	return cache.AcquireLock(runLockKey, ttl)
}

func (cacheLease) Release() error {
	return cache.ReleaseLock(runLockKey)
}
