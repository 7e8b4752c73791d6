package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyedMutex serializes work per string key. The aggregator uses it so
// that at most one aggregation per (tenant, day) runs in this process
// at a time; entries are reference-counted and dropped when idle.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedMutexEntry)}
}

// Lock blocks until the key is held and returns the unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// dayLock is the cross-instance counterpart of keyedMutex: a Redis
// SETNX lock with a TTL so a crashed holder cannot wedge the key
// forever.
type dayLock struct {
	client *redis.Client
	ttl    time.Duration
}

const dayLockRetryInterval = 100 * time.Millisecond

func newDayLock(client *redis.Client, ttl time.Duration) *dayLock {
	return &dayLock{client: client, ttl: ttl}
}

// acquire blocks until the Redis lock for key is held or ctx is done,
// and returns the release function.
func (l *dayLock) acquire(ctx context.Context, key string) (func(), error) {
	lockKey := "medallion:daylock:" + key

	for {
		ok, err := l.client.SetNX(ctx, lockKey, 1, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire day lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release on a fresh context so an aborted run still unlocks.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				l.client.Del(releaseCtx, lockKey)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dayLockRetryInterval):
		}
	}
}
