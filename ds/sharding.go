package ds

import (
	"math/rand"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// CuckooRate is the fraction of each existing shard's non-leader members
// that get reassigned to a different shard on every DS epoch, per
// spec.md §4.3.3. Grounded directly on core/resharding.go's CuckooRate.
const CuckooRate = 0.1

// ShardMember is one committee seat: a public key plus whether it is
// currently that shard's leader. Leaders are pinned across a reshard;
// only non-leader seats are subject to cuckoo reassignment.
type ShardMember struct {
	PubKey   string
	IsLeader bool
}

// ShardState is the full committee layout: one member slice per shard
// index.
type ShardState [][]ShardMember

// Shuffle deterministically permutes members using randomness as the
// seed, after first sorting by PubKey so the permutation is a pure
// function of (members, randomness) regardless of input order — grounded
// on core/resharding.go's Shuffle, which sorts by BLS key before applying
// the seeded permutation for the same reason.
func Shuffle(members []string, randomness uint64) []string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	r := rand.New(rand.NewSource(int64(randomness)))
	out := append([]string(nil), sorted...)
	for i := len(out) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// sortCommitteeBySize orders shards from largest to smallest, mirroring
// core/resharding.go's sortCommitteeBySize. Nothing in this package calls
// it: assignNewNodes finds the smallest shard itself.
func sortCommitteeBySize(state ShardState) []int {
	order := make([]int, len(state))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(state[order[i]]) > len(state[order[j]])
	})
	return order
}

// assignNewNodes places newcomers into shards round-robin, always adding
// to whichever shard is currently smallest, so shard sizes stay balanced
// within one seat of each other.
func assignNewNodes(state ShardState, newcomers []string) ShardState {
	for _, pubKey := range newcomers {
		smallest := 0
		for i := 1; i < len(state); i++ {
			if len(state[i]) < len(state[smallest]) {
				smallest = i
			}
		}
		state[smallest] = append(state[smallest], ShardMember{PubKey: pubKey})
	}
	return state
}

// cuckooResharding reassigns a CuckooRate fraction of each shard's
// non-leader members to the next shard in round-robin order, so no
// single shard's membership is ever fully static across epochs — the
// defense against a static shard being targeted and slowly corrupted.
// Grounded on core/resharding.go's cuckooResharding(percent).
func cuckooResharding(state ShardState, randomness uint64) ShardState {
	numShards := len(state)
	if numShards < 2 {
		return state
	}

	r := rand.New(rand.NewSource(int64(randomness)))
	moved := make([][]ShardMember, numShards)

	for shardIdx, members := range state {
		var stay []ShardMember
		for _, m := range members {
			if m.IsLeader {
				stay = append(stay, m)
				continue
			}
			if r.Float64() < CuckooRate {
				dest := (shardIdx + 1) % numShards
				moved[dest] = append(moved[dest], m)
				continue
			}
			stay = append(stay, m)
		}
		state[shardIdx] = stay
	}
	for i := range state {
		state[i] = append(state[i], moved[i]...)
	}
	return state
}

// Reshard computes the next epoch's ShardState from the current one: it
// removes byzantine-flagged members, cuckoo-reshuffles a fraction of the
// survivors across shards, and round-robin assigns PoW winners into the
// resulting gaps. numShards may grow relative to len(current) — new
// empty shards are appended before assignment — but never shrinks.
func Reshard(current ShardState, removed map[string]bool, winners []string, numShards int, randomness uint64) ShardState {
	next := make(ShardState, numShards)
	for i := range next {
		if i < len(current) {
			next[i] = append([]ShardMember(nil), current[i]...)
		}
	}

	for i, members := range next {
		var survivors []ShardMember
		for _, m := range members {
			if !removed[m.PubKey] {
				survivors = append(survivors, m)
			}
		}
		next[i] = survivors
	}

	next = cuckooResharding(next, randomness)
	next = assignNewNodes(next, Shuffle(winners, randomness))
	return next
}

// Hash commits to the full shard layout so it can be embedded in a
// DSBlockHeader's ShardingHash field and independently recomputed by
// every verifier.
func (s ShardState) Hash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, members := range s {
		for _, m := range members {
			h.Write([]byte(m.PubKey))
			if m.IsLeader {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		}
		h.Write([]byte{0xFF})
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
