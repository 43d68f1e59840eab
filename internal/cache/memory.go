package cache

import (
	"context"
	"sync"
	"time"

	"github.com/decred/dcrd/container/lru"

	"github.com/transfa/referral-service/internal/domain"
)

type snapshotKey struct {
	rootID int64
	depth  int
}

// MemorySnapshotCache is the in-process fallback used when Redis is not
// configured. Entries expire after the TTL and the least recently used ones
// are evicted past the size limit.
type MemorySnapshotCache struct {
	entries  *lru.Map[snapshotKey, domain.TeamSnapshot]
	maxDepth int
}

// NewMemorySnapshotCache creates an LRU snapshot cache.
func NewMemorySnapshotCache(limit uint32, ttl time.Duration, maxDepth int) *MemorySnapshotCache {
	return &MemorySnapshotCache{
		entries:  lru.NewMapWithDefaultTTL[snapshotKey, domain.TeamSnapshot](limit, ttl),
		maxDepth: maxDepth,
	}
}

// Get returns a copy of a cached snapshot.
func (c *MemorySnapshotCache) Get(_ context.Context, rootID int64, depth int) (*domain.TeamSnapshot, bool) {
	snapshot, ok := c.entries.Get(snapshotKey{rootID: rootID, depth: depth})
	if !ok {
		return nil, false
	}
	return &snapshot, true
}

// Set stores a snapshot under its root and depth.
func (c *MemorySnapshotCache) Set(_ context.Context, snapshot *domain.TeamSnapshot) {
	c.entries.Put(snapshotKey{rootID: snapshot.RootID, depth: snapshot.MaxDepth}, *snapshot)
}

// Invalidate drops every cached depth of the given roots.
func (c *MemorySnapshotCache) Invalidate(_ context.Context, rootIDs ...int64) {
	for _, rootID := range rootIDs {
		for depth := 1; depth <= c.maxDepth; depth++ {
			c.entries.Delete(snapshotKey{rootID: rootID, depth: depth})
		}
	}
}

// LocalLocker serializes work inside a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

// Acquire takes the lease on key. Expired leases are taken over.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(expires) {
			delete(l.held, key)
		}
	}
	return release, true, nil
}
