package ds

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/shardcore/corenode/coinbase"
)

// NumFinalBlockPerPoW is how many FinalBlocks a DS committee produces per
// rotation before a fresh PoW round is required, per spec.md §4.3.5.
const NumFinalBlockPerPoW = 50

// FinalBlockProposal is the DS leader's candidate final block: the
// aggregated microblock results and whether the round was vacuous. The
// coinbase reward itself is not carried here; it is settled per rotation
// by SettleRotation.
type FinalBlockProposal struct {
	Epoch        uint64
	BlockNum     uint64
	MicroBlocks  []MicroBlockSubmissionResult
	Vacuous      bool // true if every shard's submission was empty
}

// ComposeFinalBlockProposal builds a leader's final-block proposal once
// the MicroBlockCollector is ready, recording every non-empty shard's
// proposer and cosigners into tracker so Settle can later split rewards
// across them. A round where every shard is empty is "vacuous": it
// records no shard cosigns. The leader loop still counts it as one of the
// rotation's NumFinalBlockPerPoW rounds.
func ComposeFinalBlockProposal(
	epoch, blockNum uint64,
	collector *MicroBlockCollector,
	tracker *coinbase.Tracker,
	pubKeyToAddress func(pubKey string) common.Address,
) FinalBlockProposal {
	results := collector.Results()
	vacuous := true
	for _, r := range results {
		if r.Empty {
			continue
		}
		vacuous = false
		tracker.RecordCosign(epoch, int32(r.ShardID), pubKeyToAddress(r.ProposerPK))
		for _, cosigner := range r.Cosigners {
			tracker.RecordCosign(epoch, int32(r.ShardID), pubKeyToAddress(cosigner))
		}
	}

	return FinalBlockProposal{
		Epoch:       epoch,
		BlockNum:    blockNum,
		MicroBlocks: results,
		Vacuous:     vacuous,
	}
}

// RecordDSCommitteeCosign folds the DS committee's own final-block
// cosigners into the tracker under shard -1, per spec.md §4.5's
// convention that the directory committee's cosigns are rewarded
// alongside shard microblock cosigns.
func RecordDSCommitteeCosign(tracker *coinbase.Tracker, epoch uint64, cosigners []string, pubKeyToAddress func(string) common.Address) {
	for _, pk := range cosigners {
		tracker.RecordCosign(epoch, -1, pubKeyToAddress(pk))
	}
}

// SettleRotation is called once a DS rotation ends (NumFinalBlockPerPoW
// final-block rounds run, or a fresh PoW round forced early):
// it hands the accumulated rewardees to coinbase.Tracker.Settle and, on
// success, resets the tracker for the next rotation.
func SettleRotation(
	tracker *coinbase.Tracker,
	currentEpoch uint64,
	coinbaseReward, accumulatedTxnFees *big.Int,
	lastBlockHash16 uint16,
	credit coinbase.Credit,
) error {
	if err := tracker.Settle(currentEpoch, coinbaseReward, accumulatedTxnFees, lastBlockHash16, credit); err != nil {
		if errors.Is(err, coinbase.ErrNoReward) {
			return nil
		}
		return errors.Wrap(err, "settling ds rotation reward")
	}
	tracker.Reset()
	return nil
}
