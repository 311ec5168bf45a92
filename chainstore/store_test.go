package chainstore

import (
	"encoding/binary"
	"testing"

	"github.com/shardcore/corenode/persistence"
)

type testBlock uint64

func (b testBlock) Number() uint64 { return uint64(b) }
func (b testBlock) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(b))
	return buf, nil
}

func decodeTestBlock(raw []byte) (Block, error) {
	return testBlock(binary.BigEndian.Uint64(raw)), nil
}

type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }
func (m *memKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return v, nil
}
func (m *memKV) Put(key, value []byte) error { m.data[string(key)] = value; return nil }
func (m *memKV) Delete(key []byte) error     { delete(m.data, string(key)); return nil }
func (m *memKV) NewBatch() persistence.Batch { return nil }

func TestAddBlockRejectsNonSequential(t *testing.T) {
	s := New(3, newMemKV(), "t", decodeTestBlock)
	if err := s.AddBlock(testBlock(0)); err != nil {
		t.Fatalf("first AddBlock: %v", err)
	}
	if err := s.AddBlock(testBlock(5)); err != ErrNonSequential {
		t.Fatalf("expected ErrNonSequential, got %v", err)
	}
}

func TestAddBlockEvictsIntoOverflowBeyondCapacity(t *testing.T) {
	kv := newMemKV()
	s := New(2, kv, "ds", decodeTestBlock)
	for i := uint64(0); i < 5; i++ {
		if err := s.AddBlock(testBlock(i)); err != nil {
			t.Fatalf("AddBlock(%d): %v", i, err)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("expected ring to hold exactly capacity=2 blocks, got %d", s.Len())
	}

	// Block 0 should have been evicted to overflow, still retrievable.
	b, err := s.GetBlock(0)
	if err != nil {
		t.Fatalf("GetBlock(0) after eviction: %v", err)
	}
	if b.Number() != 0 {
		t.Fatalf("expected block 0, got %d", b.Number())
	}
}

func TestGetLastBlockReturnsTail(t *testing.T) {
	s := New(3, newMemKV(), "ds", decodeTestBlock)
	for i := uint64(0); i < 3; i++ {
		s.AddBlock(testBlock(i))
	}
	last, err := s.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.Number() != 2 {
		t.Fatalf("expected tail block 2, got %d", last.Number())
	}
}

func TestGetBlockMissingReturnsErrNotFound(t *testing.T) {
	s := New(3, newMemKV(), "ds", decodeTestBlock)
	if _, err := s.GetBlock(99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLastBlockOnEmptyStoreReturnsErrNotFound(t *testing.T) {
	s := New(3, newMemKV(), "ds", decodeTestBlock)
	if _, err := s.GetLastBlock(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}
}
