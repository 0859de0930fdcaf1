package shared

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// MergeLockKey is the redis key serializing ledger rebuilds across processes.
const MergeLockKey = "recon:merge:lock"

// MergeLock guards the critical section around the ledger rebuild so a
// single reconciliation run executes at a time, HTTP and worker alike.
type MergeLock struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewMergeLock constructs a MergeLock on top of the shared redis client.
func NewMergeLock(client *redis.Client, ttl time.Duration) *MergeLock {
	return &MergeLock{locker: redislock.New(client), ttl: ttl}
}

// Acquire obtains the merge lock or reports ErrMergeInProgress.
func (m *MergeLock) Acquire(ctx context.Context) (*redislock.Lock, error) {
	if m == nil || m.locker == nil {
		return nil, errors.New("merge lock not initialised")
	}
	lock, err := m.locker.Obtain(ctx, MergeLockKey, m.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrMergeInProgress
		}
		return nil, err
	}
	return lock, nil
}
