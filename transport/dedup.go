package transport

import (
	"time"

	"github.com/allegro/bigcache"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// SeenCache suppresses reprocessing of a gossip frame already handled once.
// Without this, rebroadcast of the same rumor/consensus vote across a mesh
// topology would otherwise loop the frame back through dispatch on every
// hop. Backed by bigcache, an allocation-friendly, GC-pressure-free cache
// the teacher already depends on — a plain map with a mutex would work too,
// but would need its own eviction policy; bigcache's is already tuned for
// exactly this kind of high-churn, short-lived key set.
type SeenCache struct {
	cache *bigcache.BigCache
}

// NewSeenCache builds a SeenCache whose entries expire after ttl, bounding
// memory for a long-running node without ever needing an explicit sweep.
func NewSeenCache(ttl time.Duration) (*SeenCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	c, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &SeenCache{cache: c}, nil
}

// MarkSeen records frame as handled, keyed by its content hash, and
// reports whether it had already been seen before this call.
func (s *SeenCache) MarkSeen(frame []byte) bool {
	key := frameKey(frame)
	if _, err := s.cache.Get(key); err == nil {
		return true
	}
	_ = s.cache.Set(key, []byte{1})
	return false
}

func frameKey(frame []byte) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(frame)
	var h common.Hash
	hasher.Sum(h[:0])
	return h.Hex()
}
