package bloom

import "github.com/pkg/errors"

// Compressible wraps a Filter whose table can be shrunk after the fact by
// folding the tail into the head (Compress), trading false-positive rate
// for space as the projected element count turns out to be an
// overestimate. Grounded on
// original_source/src/libData/AccountData/BloomFilter.h's
// CompressibleBloomFilter.
//
// compute_indices here intentionally differs from the reference
// implementation: the original iterates size_list indexed by the folded
// bit's *value* (`bit_index %= size_list[i]` inside `for (auto i :
// size_list)`, with `i` bound to each element of size_list rather than a
// position), which walks the wrong entries of size_list once more than one
// compression has happened. This version folds against each recorded size
// in the order compression actually happened, which is the only order
// that preserves the property a compressed filter promises: no false
// negatives relative to the pre-compression table.
type Compressible struct {
	*Filter
	sizeList []uint64
}

// NewCompressible builds a Compressible from already-computed Parameters.
func NewCompressible(p Parameters) *Compressible {
	f := New(p)
	return &Compressible{
		Filter:   f,
		sizeList: []uint64{f.tableSize},
	}
}

// ErrCompressionTooLarge is returned by Compress when the requested
// percentage would not shrink the table at all.
var ErrCompressionTooLarge = errors.New("bloom: compression percentage must be in (0, 1)")

// Compress shrinks the table by percentage (0 < percentage < 1) of its
// current size, folding the removed tail onto the head with bitwise OR so
// that every previously-set bit is still reachable through the corrected
// compute_indices.
func (c *Compressible) Compress(percentage float64) error {
	if percentage <= 0 || percentage >= 1 {
		return ErrCompressionTooLarge
	}

	originalTableSize := c.tableSize
	newTableSizeBits := uint64(float64(originalTableSize) * (1.0 - percentage))
	if rem := newTableSizeBits % bitsPerChar; rem != 0 {
		newTableSizeBits += bitsPerChar - rem
	}
	if newTableSizeBits == 0 || newTableSizeBits >= originalTableSize {
		return ErrCompressionTooLarge
	}

	newTableSizeBytes := newTableSizeBits / bitsPerChar
	folded := make([]byte, newTableSizeBytes)
	for i, b := range c.bitTable {
		folded[uint64(i)%newTableSizeBytes] |= b
	}

	c.bitTable = folded
	c.tableSize = newTableSizeBits
	c.sizeList = append(c.sizeList, newTableSizeBits)
	return nil
}

// Insert overrides Filter.Insert to fold indices through every recorded
// table size, matching what Contains will later check.
func (c *Compressible) Insert(key []byte) {
	for _, salt := range c.saltSeeds {
		bitIndex, bit := c.computeIndicesCompressed(c.hashAP(key, salt))
		c.bitTable[bitIndex/bitsPerChar] |= 1 << bit
	}
	c.elementCount++
}

// Contains overrides Filter.Contains for the same reason.
func (c *Compressible) Contains(key []byte) bool {
	for _, salt := range c.saltSeeds {
		bitIndex, bit := c.computeIndicesCompressed(c.hashAP(key, salt))
		if c.bitTable[bitIndex/bitsPerChar]&(1<<bit) == 0 {
			return false
		}
	}
	return true
}

// computeIndicesCompressed folds hash through sizeList in the order each
// compression occurred — the corrected form of the reference
// implementation's buggy compute_indices (see the Compressible doc
// comment).
func (c *Compressible) computeIndicesCompressed(hash uint32) (bitIndex uint64, bit uint64) {
	bitIndex = uint64(hash)
	for _, size := range c.sizeList {
		bitIndex %= size
	}
	bit = bitIndex % bitsPerChar
	return
}
