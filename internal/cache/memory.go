package cache

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"tirds/internal/types"
)

const defaultShardCount = 32

// MemoryStore 是进程内热层：按 key 分片的 ttlcache，条目寿命取 min(expires_at, 写入时刻+ttl)。
// 不同 key 落在不同分片时读写互不阻塞；分片满时按 LRU 淘汰。
type MemoryStore struct {
	shards []*ttlcache.Cache[string, memoryItem]
	ttl    time.Duration
}

// memoryItem 额外记录 deadline，便于调用方用注入的时钟判断过期。
type memoryItem struct {
	entry    types.CacheEntry
	deadline time.Time
}

// NewMemoryStore 创建热层；capacity<=0 表示不限容量。
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return newMemoryStore(defaultShardCount, capacity, ttl)
}

func newMemoryStore(shards, capacity int, ttl time.Duration) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	var perShard uint64
	if capacity > 0 {
		perShard = uint64((capacity + shards - 1) / shards)
	}
	out := &MemoryStore{
		shards: make([]*ttlcache.Cache[string, memoryItem], shards),
		ttl:    ttl,
	}
	for i := range out.shards {
		out.shards[i] = ttlcache.New[string, memoryItem](
			ttlcache.WithCapacity[string, memoryItem](perShard),
			ttlcache.WithDisableTouchOnHit[string, memoryItem](),
		)
	}
	return out
}

func (s *MemoryStore) shardFor(key string) *ttlcache.Cache[string, memoryItem] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get 返回仍在有效期内的条目；遇到过期条目时顺带将其驱逐。
func (s *MemoryStore) Get(key string, now time.Time) (types.CacheEntry, bool) {
	sh := s.shardFor(key)
	got := sh.Get(key)
	if got == nil {
		return types.CacheEntry{}, false
	}
	item := got.Value()
	if now.Before(item.deadline) {
		return item.entry, true
	}
	// 期间可能已被并发提升覆盖，只删除仍然过期的那份
	if cur := sh.Get(key); cur != nil && !now.Before(cur.Value().deadline) {
		sh.Delete(key)
	}
	return types.CacheEntry{}, false
}

// Put 写入热层（后写者覆盖）；已过期的条目直接忽略。
func (s *MemoryStore) Put(entry types.CacheEntry, now time.Time) {
	deadline := entry.ExpiresAt
	if s.ttl > 0 {
		if hot := now.Add(s.ttl); hot.Before(deadline) {
			deadline = hot
		}
	}
	if !now.Before(deadline) {
		return
	}
	s.shardFor(entry.Key).Set(entry.Key, memoryItem{entry: entry, deadline: deadline}, deadline.Sub(now))
}

// Delete 移除 key。
func (s *MemoryStore) Delete(key string) {
	s.shardFor(key).Delete(key)
}

// Len 返回热层条目数（包含尚未被惰性驱逐的过期条目）。
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}
