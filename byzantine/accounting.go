// Package byzantine implements cosign-participation accounting for DS
// committee members: PerformanceTracker counts successful cosigns per
// rotation and, on committee rotation, decides which under-performing
// members to remove. Grounded on spec.md §4.6 and the teacher's
// staking/slash/double-sign.go Record/Verify/Apply shape (a
// proof-of-misbehavior record plus idempotent apply-to-state functions).
package byzantine

import "math"

// PublicKey is the hex-encoded BLS public key used as the map key
// throughout this package, matching how CoinbaseRewardees/
// MemberPerformance key themselves (see SPEC_FULL.md §3).
type PublicKey string

// PerformanceTracker counts, for the committee members of the current DS
// rotation, how many cosign events they accrued (up to MaxCoSigs per
// rotation, since a final block can credit a member more than once).
type PerformanceTracker struct {
	performance map[PublicKey]uint32
}

// NewPerformanceTracker builds an empty tracker for a fresh rotation.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{performance: map[PublicKey]uint32{}}
}

// RecordCosigns increments the counter for every member in cosigners —
// called once per final block with the committee-shard (-1) rewardees.
func (p *PerformanceTracker) RecordCosigns(cosigners []PublicKey) {
	for _, pk := range cosigners {
		p.performance[pk]++
	}
}

// CountFor returns how many times pk has cosigned so far this rotation.
func (p *PerformanceTracker) CountFor(pk PublicKey) uint32 {
	return p.performance[pk]
}

// Reset clears the per-rotation counters, called immediately after
// RemovalCandidates has been consulted at the start of a new rotation.
func (p *PerformanceTracker) Reset() {
	p.performance = map[PublicKey]uint32{}
}

// DefaultPerformanceThreshold is the fraction of a rotation's maximum
// possible cosigns a member must reach to avoid being a removal candidate,
// per spec.md §8's PERFORMANCE_THRESHOLD scenario.
const DefaultPerformanceThreshold = 0.25

// MaxCoSigs returns the maximum number of cosigns any member could have
// accrued during a rotation of numFinalBlockPerPoW final blocks: two
// cosign opportunities (microblock + finalblock round) for every final
// block but the vacuous one that starts the next rotation.
func MaxCoSigs(numFinalBlockPerPoW uint32) uint32 {
	if numFinalBlockPerPoW == 0 {
		return 0
	}
	return 2 * (numFinalBlockPerPoW - 1)
}

// RemovalCandidates returns committee members below performanceThreshold,
// preserving committeeOrder priority: committeeOrder lists every current
// committee member most-senior first, and candidates are returned in that
// same relative order so the caller can cap the removal list
// deterministically. Use DefaultPerformanceThreshold unless a caller has a
// reason to override it.
//
// epoch 1 never removes anyone — there is no prior rotation to have
// measured performance against (spec.md §4.6 edge case).
func (p *PerformanceTracker) RemovalCandidates(epoch uint64, committeeOrder []PublicKey, numFinalBlockPerPoW uint32, performanceThreshold float64) []PublicKey {
	if epoch <= 1 {
		return nil
	}

	threshold := uint32(math.Ceil(performanceThreshold * float64(MaxCoSigs(numFinalBlockPerPoW))))

	candidates := make([]PublicKey, 0, len(committeeOrder))
	for _, pk := range committeeOrder {
		if p.performance[pk] < threshold {
			candidates = append(candidates, pk)
		}
	}
	return candidates
}

// SelectForRemoval caps candidates at numRemoved entries, keeping
// committee-order priority (candidates is assumed already ordered by
// RemovalCandidates).
func SelectForRemoval(candidates []PublicKey, numRemoved int) []PublicKey {
	if len(candidates) <= numRemoved {
		out := make([]PublicKey, len(candidates))
		copy(out, candidates)
		return out
	}
	out := make([]PublicKey, numRemoved)
	copy(out, candidates[:numRemoved])
	return out
}

// Record is a cosign-performance snapshot written into a DSBlock on
// rotation: the removal list plus the performance counts it was computed
// from, kept for audit/replay the way double-sign Records are kept in the
// teacher's staking/slash package.
type Record struct {
	Epoch         uint64
	RemovedPubKeys []PublicKey
	Performance   map[PublicKey]uint32
}

// Verify recomputes a Record's removal list from its own recorded
// performance counts and committee order, and reports whether it matches
// what's claimed — the check a validating replica runs on a DSBlock it
// did not produce itself.
func Verify(record Record, committeeOrder []PublicKey, numFinalBlockPerPoW uint32, performanceThreshold float64) bool {
	tracker := &PerformanceTracker{performance: record.Performance}
	candidates := tracker.RemovalCandidates(record.Epoch, committeeOrder, numFinalBlockPerPoW, performanceThreshold)
	got := SelectForRemoval(candidates, len(record.RemovedPubKeys))
	if len(got) != len(record.RemovedPubKeys) {
		return false
	}
	for i := range got {
		if got[i] != record.RemovedPubKeys[i] {
			return false
		}
	}
	return true
}

// Apply subtracts a Record's removal list from a committee, returning the
// surviving members in their original relative order.
func Apply(record Record, committee []PublicKey) []PublicKey {
	removed := make(map[PublicKey]struct{}, len(record.RemovedPubKeys))
	for _, pk := range record.RemovedPubKeys {
		removed[pk] = struct{}{}
	}
	survivors := make([]PublicKey, 0, len(committee))
	for _, pk := range committee {
		if _, gone := removed[pk]; !gone {
			survivors = append(survivors, pk)
		}
	}
	return survivors
}
