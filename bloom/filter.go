package bloom

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// predefSalt is the 128 constants used to seed the salted hash functions
// before falling back to a seeded PRNG for k > 128. Copied verbatim from
// the reference implementation (generate_unique_salt).
var predefSalt = [128]uint32{
	0xAAAAAAAA, 0x55555555, 0x33333333, 0xCCCCCCCC, 0x66666666, 0x99999999,
	0xB5B5B5B5, 0x4B4B4B4B, 0xAA55AA55, 0x55335533, 0x33CC33CC, 0xCC66CC66,
	0x66996699, 0x99B599B5, 0xB54BB54B, 0x4BAA4BAA, 0xAA33AA33, 0x55CC55CC,
	0x33663366, 0xCC99CC99, 0x66B566B5, 0x994B994B, 0xB5AAB5AA, 0xAAAAAA33,
	0x555555CC, 0x33333366, 0xCCCCCC99, 0x666666B5, 0x9999994B, 0xB5B5B5AA,
	0xFFFFFFFF, 0xFFFF0000, 0xB823D5EB, 0xC1191CDF, 0xF623AEB3, 0xDB58499F,
	0xC8D42E70, 0xB173F616, 0xA91A5967, 0xDA427D63, 0xB1E8A2EA, 0xF6C0D155,
	0x4909FEA3, 0xA68CC6A7, 0xC395E782, 0xA26057EB, 0x0CD5DA28, 0x467C5492,
	0xF15E6982, 0x61C6FAD3, 0x9615E352, 0x6E9E355A, 0x689B563E, 0x0C9831A8,
	0x6753C18B, 0xA622689B, 0x8CA63C47, 0x42CC2884, 0x8E89919B, 0x6EDBD7D3,
	0x15B6796C, 0x1D6FDFE4, 0x63FF9092, 0xE7401432, 0xEFFE9412, 0xAEAEDF79,
	0x9F245A31, 0x83C136FC, 0xC3DA4A8C, 0xA5112C8C, 0x5271F491, 0x9A948DAB,
	0xCEE59A8D, 0xB5F525AB, 0x59D13217, 0x24E7C331, 0x697C2103, 0x84B0A460,
	0x86156DA9, 0xAEF2AC68, 0x23243DA5, 0x3F649643, 0x5FA495A8, 0x67710DF8,
	0x9A6C499E, 0xDCFB0227, 0x46A43433, 0x1832B07A, 0xC46AFF3C, 0xB9C8FFF0,
	0xC9500467, 0x34431BDF, 0xB652432B, 0xE367F12B, 0x427F4C1B, 0x224C006E,
	0x2E7E5A89, 0x96F99AA5, 0x0BEB452A, 0x2FD87C39, 0x74B2E1FB, 0x222EFD24,
	0xF357F60C, 0x440FCB1E, 0x8BBE030F, 0x6704DC29, 0x1144D12F, 0x948B1355,
	0x6D8FD7E9, 0x1C11A014, 0xADD1592F, 0xFB3C712E, 0xFC77642F, 0xF9C4CE8C,
	0x31312FB9, 0x08B0DD79, 0x318FA6E7, 0xC040D23D, 0xC0589AA7, 0x0CA5C075,
	0xF874B172, 0x0CF914D5, 0x784D3280, 0x4E8CFEBC, 0xC569F575, 0xCDB2A091,
	0x2CC016B4, 0x5C5F4421,
}

// Filter is a Bloom filter over arbitrary byte-slice keys. Not safe for
// concurrent use without external synchronization, matching the reference
// implementation (callers needing concurrency wrap a Filter in their own
// mutex, same as the rest of this codebase's single-mutex-per-component
// convention).
type Filter struct {
	bitTable             []byte
	saltSeeds            []uint32
	saltCount            uint32
	tableSize            uint64
	projectedElementCount uint64
	elementCount          uint64
	randomSeed            uint64
	desiredFPP            float64
}

// New builds a Filter from already-computed Parameters (see
// Parameters.Compute).
func New(p Parameters) *Filter {
	f := &Filter{
		saltCount:             p.saltCount,
		tableSize:             p.tableSize,
		projectedElementCount: p.ProjectedElementCount,
		randomSeed:            (p.RandomSeed * 0xA5A5A5A5) + 1,
		desiredFPP:            p.FalsePositiveProbability,
	}
	f.generateUniqueSalt()
	f.bitTable = make([]byte, f.tableSize/bitsPerChar)
	return f
}

// SaltCount returns the number of hash functions (salts) in use.
func (f *Filter) SaltCount() uint32 { return f.saltCount }

// TableSize returns the bit-table size in bits. tableSize mod 8 == 0 always.
func (f *Filter) TableSize() uint64 { return f.tableSize }

// ElementCount returns the number of Insert calls made so far.
func (f *Filter) ElementCount() uint64 { return f.elementCount }

// Empty reports whether the filter has a zero-sized table (the zero value).
func (f *Filter) Empty() bool { return f.tableSize == 0 }

// Clear zeroes the bit table and resets the inserted element count.
func (f *Filter) Clear() {
	for i := range f.bitTable {
		f.bitTable[i] = 0
	}
	f.elementCount = 0
}

// Insert adds key to the filter.
func (f *Filter) Insert(key []byte) {
	for _, salt := range f.saltSeeds {
		bitIndex, bit := f.computeIndices(f.hashAP(key, salt))
		f.bitTable[bitIndex/bitsPerChar] |= 1 << bit
	}
	f.elementCount++
}

// Contains reports whether key may be a member (false positives possible,
// false negatives never).
func (f *Filter) Contains(key []byte) bool {
	for _, salt := range f.saltSeeds {
		bitIndex, bit := f.computeIndices(f.hashAP(key, salt))
		if f.bitTable[bitIndex/bitsPerChar]&(1<<bit) == 0 {
			return false
		}
	}
	return true
}

// ContainsAll reports whether every key in keys is (possibly) a member.
func (f *Filter) ContainsAll(keys [][]byte) bool {
	for _, k := range keys {
		if !f.Contains(k) {
			return false
		}
	}
	return true
}

// ContainsNone reports whether none of keys is (possibly) a member.
func (f *Filter) ContainsNone(keys [][]byte) bool {
	for _, k := range keys {
		if f.Contains(k) {
			return false
		}
	}
	return true
}

// EffectiveFPP computes the observed false-positive probability from the
// current table size, salt count, and actual inserted element count (not
// the originally projected count).
func (f *Filter) EffectiveFPP() float64 {
	if f.tableSize == 0 {
		return 0
	}
	k := float64(len(f.saltSeeds))
	exponent := -1.0 * k * float64(f.elementCount) / float64(f.tableSize)
	return math.Pow(1.0-math.Exp(exponent), k)
}

// compute_indices in the base Filter is the unmodified hash % tableSize
// fold described in spec.md §4.7 — unlike CompressibleBloomFilter, there is
// no size_list to iterate.
func (f *Filter) computeIndices(hash uint32) (bitIndex uint64, bit uint64) {
	bitIndex = uint64(hash) % f.tableSize
	bit = bitIndex % bitsPerChar
	return
}

// compatible returns whether f and other share the same (saltCount,
// tableSize, seed) — the precondition for the bitwise set operations.
func (f *Filter) compatible(other *Filter) bool {
	return f.saltCount == other.saltCount &&
		f.tableSize == other.tableSize &&
		f.randomSeed == other.randomSeed
}

// ErrIncompatibleFilters is returned by the bitwise set operations when
// the operands don't share (saltCount, tableSize, seed).
var ErrIncompatibleFilters = errors.New("bloom: filters have different (saltCount, tableSize, seed)")

// Union ORs other's bit table into f in place.
func (f *Filter) Union(other *Filter) error {
	if !f.compatible(other) {
		return ErrIncompatibleFilters
	}
	for i := range f.bitTable {
		f.bitTable[i] |= other.bitTable[i]
	}
	return nil
}

// Intersect ANDs other's bit table into f in place.
func (f *Filter) Intersect(other *Filter) error {
	if !f.compatible(other) {
		return ErrIncompatibleFilters
	}
	for i := range f.bitTable {
		f.bitTable[i] &= other.bitTable[i]
	}
	return nil
}

// Difference XORs other's bit table into f in place.
func (f *Filter) Difference(other *Filter) error {
	if !f.compatible(other) {
		return ErrIncompatibleFilters
	}
	for i := range f.bitTable {
		f.bitTable[i] ^= other.bitTable[i]
	}
	return nil
}

// generateUniqueSalt reproduces the reference implementation's salt
// derivation. When saltCount is at most 128, the first saltCount
// predefined constants are mixed with the user seed (each multiplied by
// the constant three places on, then the seed added). When saltCount
// exceeds 128, all 128 constants are used unmixed and the remainder is
// drawn from a PRNG seeded with the user seed, rejecting zeros and
// collisions.
func (f *Filter) generateUniqueSalt() {
	if f.saltCount <= uint32(len(predefSalt)) {
		f.saltSeeds = make([]uint32, f.saltCount)
		copy(f.saltSeeds, predefSalt[:f.saltCount])
		n := len(f.saltSeeds)
		for i := range f.saltSeeds {
			f.saltSeeds[i] = f.saltSeeds[i]*f.saltSeeds[(i+3)%n] + uint32(f.randomSeed)
		}
		return
	}

	f.saltSeeds = make([]uint32, len(predefSalt), f.saltCount)
	copy(f.saltSeeds, predefSalt[:])

	rng := rand.New(rand.NewSource(int64(uint32(f.randomSeed))))
	seen := make(map[uint32]struct{}, f.saltCount)
	for _, s := range f.saltSeeds {
		seen[s] = struct{}{}
	}
	for uint32(len(f.saltSeeds)) < f.saltCount {
		candidate := rng.Uint32() * rng.Uint32()
		if candidate == 0 {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		f.saltSeeds = append(f.saltSeeds, candidate)
	}
}

// hashAP is the Arash Partow shift-xor hash used to fold an arbitrary key
// plus salt into a single uint32, ported byte-for-byte in spirit from the
// reference hash_ap (the C++ does unaligned 32/16-bit word reads directly
// off the buffer; Go reads via encoding/binary.LittleEndian instead, since
// unaligned pointer casts aren't idiomatic or portable here — same bytes,
// same order, no behavioral difference for any architecture this runs on).
func (f *Filter) hashAP(key []byte, seedHash uint32) uint32 {
	hash := seedHash
	data := key
	loop := uint32(0)

	for len(data) >= 8 {
		i1 := binary.LittleEndian.Uint32(data[0:4])
		i2 := binary.LittleEndian.Uint32(data[4:8])
		data = data[8:]
		hash ^= (hash << 7) ^ i1*(hash>>3) ^ (^((hash << 11) + (i2 ^ (hash >> 5))))
	}

	if len(data) > 0 {
		if len(data) >= 4 {
			i := binary.LittleEndian.Uint32(data[0:4])
			if loop&0x01 != 0 {
				hash ^= (hash << 7) ^ i*(hash>>3)
			} else {
				hash ^= ^((hash << 11) + (i ^ (hash >> 5)))
			}
			loop++
			data = data[4:]
		}

		if len(data) >= 2 {
			i := uint32(binary.LittleEndian.Uint16(data[0:2]))
			if loop&0x01 != 0 {
				hash ^= (hash << 7) ^ i*(hash>>3)
			} else {
				hash ^= ^((hash << 11) + (i ^ (hash >> 5)))
			}
			loop++
			data = data[2:]
		}

		if len(data) > 0 {
			hash += (uint32(data[0]) ^ (hash * 0xA5A5A5A5)) + loop
		}
	}

	return hash
}
