// Package bloom implements the compact membership index used for
// transaction/log lookup: a classic Bloom filter with Arash Partow-style
// salted hashing, plus a CompressibleBloomFilter that can shrink its table
// by folding the tail into the head. Grounded on
// original_source/src/libData/AccountData/BloomFilter.{h,cpp}.
package bloom

import "math"

const bitsPerChar = 8

// Parameters captures the inputs to the optimal (k, m) search of spec.md
// §4.7: the projected element count and the desired false-positive
// probability.
type Parameters struct {
	ProjectedElementCount     uint64
	FalsePositiveProbability  float64
	RandomSeed                uint64

	// resolved by Compute
	saltCount uint32
	tableSize uint64
}

// DefaultParameters mirrors the reference implementation's defaults: 10000
// projected elements, false positive probability the reciprocal of that,
// and a fixed non-zero seed.
func DefaultParameters() Parameters {
	n := uint64(10000)
	return Parameters{
		ProjectedElementCount:    n,
		FalsePositiveProbability: 1.0 / float64(n),
		RandomSeed:               0xA5A5A5A55A5A5A5A,
	}
}

// Compute performs the optimal-parameter search of spec.md §4.7: for k in
// [1, 1000), minimize m(k) = (-k*n) / ln(1 - p^(1/k)); the winning m is
// rounded up to a multiple of 8 bits.
func (p Parameters) Compute() Parameters {
	n := float64(p.ProjectedElementCount)
	minM := math.Inf(1)
	minK := 1.0

	for k := 1.0; k < 1000.0; k++ {
		numerator := -k * n
		denominator := math.Log(1.0 - math.Pow(p.FalsePositiveProbability, 1.0/k))
		m := numerator / denominator
		if m < minM {
			minM = m
			minK = k
		}
	}

	tableSize := uint64(minM)
	if rem := tableSize % bitsPerChar; rem != 0 {
		tableSize += bitsPerChar - rem
	}
	if tableSize == 0 {
		tableSize = bitsPerChar
	}

	p.saltCount = uint32(minK)
	p.tableSize = tableSize
	return p
}
