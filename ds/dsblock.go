package ds

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/byzantine"
)

// MaxPoWWinners bounds how many new candidates a single DS-block can
// admit, per spec.md §4.3.2.
const MaxPoWWinners = 100

// NumOfRemoved bounds how many committee members ByzantineAccounting can
// evict in a single rotation, per spec.md §4.6's NUM_OF_REMOVED.
const NumOfRemoved = 3

// DSBlockProposal is the leader's candidate DS-block body before
// consensus signs off on it: the admitted PoW winners, the members
// ByzantineAccounting flagged for removal this rotation, and the
// resulting committee's sharding commitment.
type DSBlockProposal struct {
	Epoch           uint64
	Winners         []PoWSubmission
	RemovedPubKeys  []byzantine.PublicKey
	ShardingHash    common.Hash
	GasPrice        uint64
}

// ComposeDSBlockProposal builds the leader's proposal for a DS-block
// consensus round, per spec.md §4.3.2's composition order: cap PoW
// winners, fold in ByzantineAccounting's removal candidates for this
// rotation (capped at NumOfRemoved), reshard the resulting committee,
// settle the gas price against the prior epoch's TxBlocks and this
// round's submitted proposals (§4.4), and commit to the result.
// epochBlocks is empty for a rotation with no prior TxBlocks to measure
// (e.g. the one following genesis), in which case the price holds.
func ComposeDSBlockProposal(
	epoch uint64,
	pool *PoWPool,
	tracker *byzantine.PerformanceTracker,
	committeeOrder []byzantine.PublicKey,
	numFinalBlockPerPoW uint32,
	current ShardState,
	numShards int,
	randomness uint64,
	gasPrice *GasPriceController,
	epochBlocks []EpochBlockUsage,
) DSBlockProposal {
	winners := pool.Winners(MaxPoWWinners)

	candidates := tracker.RemovalCandidates(epoch, committeeOrder, numFinalBlockPerPoW, byzantine.DefaultPerformanceThreshold)
	removed := byzantine.SelectForRemoval(candidates, NumOfRemoved)

	removedSet := make(map[string]bool, len(removed))
	for _, pk := range removed {
		removedSet[string(pk)] = true
	}

	winnerKeys := make([]string, len(winners))
	for i, w := range winners {
		winnerKeys[i] = w.PubKey
	}

	next := Reshard(current, removedSet, winnerKeys, numShards, randomness)

	price := gasPrice.Adjust(epochBlocks, pool.GasPriceProposals())

	return DSBlockProposal{
		Epoch:          epoch,
		Winners:        winners,
		RemovedPubKeys: removed,
		ShardingHash:   next.Hash(),
		GasPrice:       price.Uint64(),
	}
}
