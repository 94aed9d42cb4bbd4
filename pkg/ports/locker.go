package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates turns of the same session across replicas.
type DistributedLocker interface {
	// Lock acquires the lock for key (a "process:phone" session key), retrying
	// until it is granted or ctx is done. The lock expires after ttl if the
	// holder dies. The returned UnlockFunc MUST be called to release it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
