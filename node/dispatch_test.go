package node

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/harmony-one/bls/ffi/go/bls"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/rs/zerolog"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/bloom"
	"github.com/shardcore/corenode/chainstore"
	"github.com/shardcore/corenode/consensus"
	"github.com/shardcore/corenode/ds"
	"github.com/shardcore/corenode/transport"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	machine := ds.NewMachine(0, 0, ds.DefaultTimeouts(), zerolog.Nop())

	dsChain := chainstore.New(chainRingCapacity, newMemKV(), "dsblock", func(raw []byte) (chainstore.Block, error) {
		return block.DecodeDSBlockHeader(raw)
	})
	txShard := chainstore.New(chainRingCapacity, newMemKV(), "txblock", func(raw []byte) (chainstore.Block, error) {
		return block.DecodeTxBlockHeader(raw)
	})
	sc := newShardChain(txShard)
	accounts := NewAccountStore(newMemKV())

	return &Node{
		logger:      zerolog.Nop(),
		machine:     machine,
		dsChain:     dsChain,
		txChains:    map[uint32]*shardChain{0: sc},
		shardID:     0,
		accounts:    accounts,
		txPool:      newTxPool(bloom.New(bloom.DefaultParameters().Compute())),
		microBlocks: ds.NewMicroBlockCollector(1),
		numShards:   1,
	}
}

func TestHandleForwardedTransactionGatedByAdmission(t *testing.T) {
	n := newTestNode(t)
	from := common.HexToAddress("0x10")
	n.accounts.CreditCoinbase(from, big.NewInt(100))

	tx := block.Transaction{Nonce: 0, From: from, To: common.HexToAddress("0x11"), Amount: big.NewInt(1)}
	body, err := rlp.EncodeToBytes(tx)
	if err != nil {
		t.Fatalf("encode tx: %v", err)
	}

	// machine starts in PowSubmission: a forwarded transaction should be
	// dropped, not queued.
	n.handleForwardedTransaction(body)
	if n.txPool.Len() != 0 {
		t.Fatalf("expected transaction to be dropped outside MicroBlockSubmission, got %d pending", n.txPool.Len())
	}

	n.machine.AdvanceTo(ds.MicroBlockSubmission)
	n.handleForwardedTransaction(body)
	if n.txPool.Len() != 1 {
		t.Fatalf("expected transaction to be admitted once machine reaches MicroBlockSubmission, got %d", n.txPool.Len())
	}
}

func TestHandleDSBlockAnnounceStoresBlock(t *testing.T) {
	n := newTestNode(t)
	n.machine.AdvanceTo(ds.DSBlockConsensusPrep)
	n.machine.AdvanceTo(ds.DSBlockConsensus)

	hdr := block.DSBlockHeader{BlockNum: 0, EpochNum: 0}
	body, err := rlp.EncodeToBytes(hdr)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}

	n.handleDSBlockAnnounce(body)
	last, err := n.dsChain.GetLastBlock()
	if err != nil {
		t.Fatalf("expected ds-block to be stored: %v", err)
	}
	if last.Number() != 0 {
		t.Fatalf("expected stored block number 0, got %d", last.Number())
	}
}

func TestHandleDSBlockAnnounceDroppedOutsideAdmission(t *testing.T) {
	n := newTestNode(t)
	hdr := block.DSBlockHeader{BlockNum: 0}
	body, _ := rlp.EncodeToBytes(hdr)

	n.handleDSBlockAnnounce(body)
	if _, err := n.dsChain.GetLastBlock(); err == nil {
		t.Fatalf("expected ds-block announce to be dropped while machine is in PowSubmission")
	}
}

func TestHandleMicroBlockSubmissionFeedsCollector(t *testing.T) {
	n := newTestNode(t)
	n.machine.AdvanceTo(ds.MicroBlockSubmission)

	mb := microBlockFrame{ShardID: 0, Empty: false, ProposerPK: "pk", Cosigners: []string{"a", "b"}}
	body, err := rlp.EncodeToBytes(mb)
	if err != nil {
		t.Fatalf("encode microblock frame: %v", err)
	}

	n.handleMicroBlockSubmission(body)
	if !n.currentMicroBlocks().Ready() {
		t.Fatalf("expected collector to be ready after its single shard reports")
	}
}

func TestHandleCS1VoteNoActiveRoundIsNoop(t *testing.T) {
	n := newTestNode(t)
	n.consensus = consensus.NewCoordinator(nil, 0, func(int) int { return 1 }, time.Second, func(string) *bls.PublicKey { return nil })
	// No round has ever been started, so ActiveRound is nil and the vote
	// must be dropped without touching a round.
	n.handleCS1Vote(nil)
}

func TestHandleViewChangeVoteNoActiveRoundIsNoop(t *testing.T) {
	n := newTestNode(t)
	n.machine.AdvanceTo(ds.DSBlockConsensus)
	// No runViewChange has installed a Controller, so the vote must be
	// dropped without panicking on a nil activeViewChange.
	n.handleViewChangeVote(nil)
}

func TestHandleConsensusFrameRoutesByInstruction(t *testing.T) {
	n := newTestNode(t)
	// An instruction outside {CS1Vote, CS2Vote} must be logged and dropped,
	// not panic.
	n.handleConsensusFrame(transport.Frame{Instruction: transport.Instruction(99)}, peer.ID(""))
}
