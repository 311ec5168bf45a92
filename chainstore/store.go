// Package chainstore implements BlockChainStore: an in-memory ring buffer
// over the most recent blocks of a chain (the DS chain or a shard's TX
// chain), with older blocks evicted into persistent storage. Grounded on
// spec.md §4.8.
package chainstore

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/shardcore/corenode/persistence"
)

// Block is the minimal shape chainstore needs from whatever block type
// (block.DSBlockHeader, block.TxBlockHeader, ...) a Store is instantiated
// for: an ordinal position and a byte encoding for the persistent tier.
type Block interface {
	Number() uint64
	Encode() ([]byte, error)
}

// Decoder reconstructs a Block from its persisted encoding.
type Decoder func([]byte) (Block, error)

// ErrNonSequential is returned by AddBlock when b does not extend the
// current tail.
var ErrNonSequential = errors.New("chainstore: block does not extend the chain tail")

// ErrNotFound is returned by GetBlock when n is neither in the ring nor
// in persistent storage.
var ErrNotFound = errors.New("chainstore: block not found")

// Store is the ring-buffer-plus-overflow BlockChainStore. Guarded by a
// single mutex covering both the ring and the overflow lookup, per
// spec.md §5.
type Store struct {
	mu       sync.Mutex
	capacity int
	ring     []Block // logical index i holds blockNum = tailNum - len(ring) + 1 + i
	overflow persistence.KV
	table    string
	decode   Decoder
}

// New builds a Store of the given ring capacity, persisting evicted
// blocks under table in overflow.
func New(capacity int, overflow persistence.KV, table string, decode Decoder) *Store {
	return &Store{
		capacity: capacity,
		overflow: overflow,
		table:    table,
		decode:   decode,
	}
}

// AddBlock appends b to the chain. b must extend the current tail
// (b.Number() == tail.Number()+1), or the store must be empty (b becomes
// the first block). Blocks pushed out of the ring by capacity are
// persisted to overflow.
func (s *Store) AddBlock(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ring) > 0 {
		tail := s.ring[len(s.ring)-1]
		if b.Number() != tail.Number()+1 {
			return ErrNonSequential
		}
	}

	s.ring = append(s.ring, b)
	if len(s.ring) > s.capacity {
		evicted := s.ring[0]
		s.ring = s.ring[1:]
		if err := s.persist(evicted); err != nil {
			return errors.Wrapf(err, "persisting evicted block %d", evicted.Number())
		}
	}
	return nil
}

func (s *Store) persist(b Block) error {
	encoded, err := b.Encode()
	if err != nil {
		return err
	}
	key := s.key(b.Number())
	return s.overflow.Put(key, encoded)
}

func (s *Store) key(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return persistence.Namespace(s.table, buf)
}

// GetBlock returns the block at height n, reading from the ring if it is
// still resident or falling through to persistent storage otherwise.
func (s *Store) GetBlock(n uint64) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ring) > 0 {
		tail := s.ring[len(s.ring)-1].Number()
		head := s.ring[0].Number()
		if n >= head && n <= tail {
			return s.ring[n-head], nil
		}
	}

	raw, err := s.overflow.Get(s.key(n))
	if err != nil {
		if err == persistence.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.decode(raw)
}

// GetLastBlock returns the ring's tail, or (nil, ErrNotFound) if the
// store is empty.
func (s *Store) GetLastBlock() (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ring) == 0 {
		return nil, ErrNotFound
	}
	return s.ring[len(s.ring)-1], nil
}

// Len reports how many blocks are currently resident in the ring (not
// counting anything evicted to overflow).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring)
}
