package ds

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/byzantine"
)

func TestComposeDSBlockProposalCapsWinnersAndCommitsSharding(t *testing.T) {
	pool := NewPoWPool(5, permissiveVerifier{ok: true}, permissiveAddrs{public: true})
	pool.Submit(newSubmission(5, "w1", 0x01))
	pool.Submit(newSubmission(5, "w2", 0x02))

	tracker := byzantine.NewPerformanceTracker()
	gasPrice := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(10))
	current := ShardState{{{PubKey: "leader0", IsLeader: true}}}

	proposal := ComposeDSBlockProposal(5, pool, tracker, nil, 4, current, 1, 7, gasPrice, nil)

	if len(proposal.Winners) != 2 {
		t.Fatalf("expected both winners admitted, got %d", len(proposal.Winners))
	}
	if proposal.ShardingHash == (common.Hash{}) {
		t.Fatalf("expected non-zero sharding hash")
	}
	if proposal.GasPrice != 10 {
		t.Fatalf("expected gas price 10, got %d", proposal.GasPrice)
	}
}

func TestComposeDSBlockProposalAdjustsGasPriceFromEpochBlocks(t *testing.T) {
	pool := NewPoWPool(5, permissiveVerifier{ok: true}, permissiveAddrs{public: true})
	tracker := byzantine.NewPerformanceTracker()
	gasPrice := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	current := ShardState{{{PubKey: "leader0", IsLeader: true}}}

	hot := []EpochBlockUsage{{GasUsed: 90, GasLimit: 100}, {GasUsed: 95, GasLimit: 100}}
	proposal := ComposeDSBlockProposal(5, pool, tracker, nil, 4, current, 1, 7, gasPrice, hot)

	if proposal.GasPrice <= 100 {
		t.Fatalf("expected gas price to rise above 100 given a fully congested epoch, got %d", proposal.GasPrice)
	}
}

func TestComposeDSBlockProposalVacuousEpochRemovesNobody(t *testing.T) {
	pool := NewPoWPool(1, permissiveVerifier{ok: true}, permissiveAddrs{public: true})
	tracker := byzantine.NewPerformanceTracker()
	gasPrice := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(1))
	committee := []byzantine.PublicKey{"a", "b"}

	proposal := ComposeDSBlockProposal(1, pool, tracker, committee, 4, ShardState{{}}, 1, 1, gasPrice, nil)
	if len(proposal.RemovedPubKeys) != 0 {
		t.Fatalf("expected epoch 1 to remove nobody, got %v", proposal.RemovedPubKeys)
	}
}
