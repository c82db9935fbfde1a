package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/codec"
)

// dedupKey identifies a device-retransmitted packet (spec §4.2
// Deduplication): kind, endpoint, msg_id, and a fingerprint of the inner
// data, since a retransmit of the same logical packet repeats all four.
type dedupKey struct {
	kind        codec.PacketKind
	endpoint    [5]byte
	msgID       [2]byte
	fingerprint uint64
}

func fingerprint(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// dedupCache is a TTL- and capacity-bounded cache of recently seen packet
// keys. On a hit, the caller must still ACK the device but must not
// re-deliver the packet to the registry.
type dedupCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[dedupKey]time.Time
	order    []dedupKey // insertion order, for capacity eviction

	hits      uint64
	evictions uint64
}

func newDedupCache(ttl time.Duration, capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &dedupCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[dedupKey]time.Time, capacity),
	}
}

// seen records the packet and reports whether it was already present
// (i.e. this is a retransmission). An expired entry is overwritten when
// its key is seen again; entries leave the cache only by capacity eviction.
func (c *dedupCache) seen(kind codec.PacketKind, endpoint [5]byte, msgID [2]byte, inner []byte) bool {
	key := dedupKey{kind: kind, endpoint: endpoint, msgID: msgID, fingerprint: fingerprint(inner)}
	now := nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.entries[key]; ok && now.Before(expiry) {
		c.hits++
		c.entries[key] = now.Add(c.ttl)
		return true
	}

	c.entries[key] = now.Add(c.ttl)
	c.order = append(c.order, key)

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			c.evictions++
		}
	}

	return false
}

// size returns the current number of entries, including expired entries
// not yet evicted.
func (c *dedupCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// stats returns cumulative hit and eviction counts.
func (c *dedupCache) stats() (hits, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.evictions
}
