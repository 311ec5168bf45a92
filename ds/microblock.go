package ds

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MicroBlockSubmissionResult is what one shard contributes to the
// FinalBlock: either a real microblock hash plus its proposer and
// cosigners, or — if the shard's consensus round never finished before
// MICROBLOCK_TIMEOUT — an empty marker so the DS committee doesn't stall
// waiting on a shard that went dark, per spec.md §4.3.4.
type MicroBlockSubmissionResult struct {
	ShardID    uint32
	Empty      bool
	BlockHash  common.Hash
	ProposerPK string
	Cosigners  []string
}

// MicroBlockCollector gathers one submission per shard for a single
// FinalBlock round.
type MicroBlockCollector struct {
	mu         sync.Mutex
	numShards  uint32
	byShard    map[uint32]MicroBlockSubmissionResult
}

// NewMicroBlockCollector creates a collector expecting submissions from
// numShards distinct shards.
func NewMicroBlockCollector(numShards uint32) *MicroBlockCollector {
	return &MicroBlockCollector{numShards: numShards, byShard: map[uint32]MicroBlockSubmissionResult{}}
}

// Submit records a shard's microblock result. A later submission for the
// same shard replaces an earlier one — relevant if a shard first times
// out with Empty and a late real result subsequently arrives within the
// collector's own outer timeout.
func (c *MicroBlockCollector) Submit(r MicroBlockSubmissionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byShard[r.ShardID] = r
}

// MarkTimedOut records an empty placeholder for any shard that hasn't
// submitted yet, called once MICROBLOCK_TIMEOUT elapses so the
// FinalBlock round can proceed without that shard's contribution.
func (c *MicroBlockCollector) MarkTimedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for shard := uint32(0); shard < c.numShards; shard++ {
		if _, ok := c.byShard[shard]; !ok {
			c.byShard[shard] = MicroBlockSubmissionResult{ShardID: shard, Empty: true}
		}
	}
}

// Ready reports whether every shard has a recorded result (real or
// timed-out empty).
func (c *MicroBlockCollector) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byShard) == int(c.numShards)
}

// Results returns the collected submissions ordered by shard ID.
func (c *MicroBlockCollector) Results() []MicroBlockSubmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MicroBlockSubmissionResult, c.numShards)
	for shard, r := range c.byShard {
		out[shard] = r
	}
	return out
}
