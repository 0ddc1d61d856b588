package limitcount

import (
	"container/heap"
	"net/http"
	"sync"
	"time"
)

// MemoryStorageConfig selects the in-process storage.
type MemoryStorageConfig struct{}

// CreateStorage builds the in-memory storage.
func (c *MemoryStorageConfig) CreateStorage(intervalSec uint64, refill int) (Storage, error) {
	return newMemoryStorage(time.Duration(intervalSec)*time.Second, refill), nil
}

type bucket struct {
	lastFill time.Time
	tokens   int
}

// memoryStorage keeps per-key buckets in a sharded map. Expiry is driven
// by a min-heap of deadlines guarded by its own lock, touched once per
// check.
type memoryStorage struct {
	interval time.Duration
	refill   int
	buckets  *shardedMap[*bucket]

	expireMu    sync.Mutex
	expireQueue expireHeap
}

func newMemoryStorage(interval time.Duration, refill int) *memoryStorage {
	return &memoryStorage{
		interval: interval,
		refill:   refill,
		buckets:  newShardedMap[*bucket](),
	}
}

// Check consumes one token for key, refilling when the interval elapsed.
func (s *memoryStorage) Check(_ *http.Request, key string) (bool, int, error) {
	now := time.Now()
	s.clearExpiredKeys(now)

	shard := s.buckets.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, ok := shard.items[key]
	if !ok {
		b = &bucket{lastFill: now, tokens: s.refill}
		shard.items[key] = b

		s.expireMu.Lock()
		heap.Push(&s.expireQueue, expireItem{expireAt: now.Add(2 * s.interval), key: key})
		s.expireMu.Unlock()
	}

	if now.Sub(b.lastFill) > s.interval {
		b.lastFill = now
		b.tokens = s.refill
	}

	if b.tokens > 0 {
		b.tokens--
		return true, b.tokens, nil
	}
	return false, 0, nil
}

// clearExpiredKeys drops buckets whose deadline passed. The heap bounds
// the work: only ripe entries are popped.
func (s *memoryStorage) clearExpiredKeys(now time.Time) {
	s.expireMu.Lock()
	defer s.expireMu.Unlock()

	for len(s.expireQueue) > 0 && now.After(s.expireQueue[0].expireAt) {
		item := heap.Pop(&s.expireQueue).(expireItem)
		s.buckets.delete(item.key)
	}
}

type expireItem struct {
	expireAt time.Time
	key      string
}

type expireHeap []expireItem

func (h expireHeap) Len() int           { return len(h) }
func (h expireHeap) Less(i, j int) bool { return h[i].expireAt.Before(h[j].expireAt) }
func (h expireHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expireHeap) Push(x any)        { *h = append(*h, x.(expireItem)) }
func (h *expireHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
