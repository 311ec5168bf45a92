package ds

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/coinbase"
)

func addrFor(pubKey string) common.Address {
	var a common.Address
	copy(a[:], pubKey)
	return a
}

type stubCredit struct {
	credited map[common.Address]*big.Int
}

func newStubCredit() *stubCredit { return &stubCredit{credited: map[common.Address]*big.Int{}} }
func (s *stubCredit) CreditCoinbase(addr common.Address, amount *big.Int) error {
	s.credited[addr] = new(big.Int).Set(amount)
	return nil
}

func TestComposeFinalBlockProposalRecordsCosignsForNonEmptyShards(t *testing.T) {
	collector := NewMicroBlockCollector(2)
	collector.Submit(MicroBlockSubmissionResult{ShardID: 0, ProposerPK: "p0", Cosigners: []string{"c1"}})
	collector.MarkTimedOut()

	tracker := coinbase.NewTracker(nil)
	proposal := ComposeFinalBlockProposal(3, 100, collector, tracker, addrFor)

	if proposal.Vacuous {
		t.Fatalf("expected non-vacuous round with one real shard submission")
	}
	rewardees := tracker.Rewardees()[3][0]
	if len(rewardees) != 2 {
		t.Fatalf("expected proposer+cosigner recorded, got %d", len(rewardees))
	}
}

func TestComposeFinalBlockProposalAllEmptyIsVacuous(t *testing.T) {
	collector := NewMicroBlockCollector(2)
	collector.MarkTimedOut()
	tracker := coinbase.NewTracker(nil)

	proposal := ComposeFinalBlockProposal(3, 100, collector, tracker, addrFor)
	if !proposal.Vacuous {
		t.Fatalf("expected vacuous round when every shard is empty")
	}
}

func TestSettleRotationResetsTrackerOnSuccess(t *testing.T) {
	tracker := coinbase.NewTracker(nil)
	tracker.RecordCosign(3, 0, addrFor("a"))
	credit := newStubCredit()

	if err := SettleRotation(tracker, 3, big.NewInt(100), big.NewInt(0), 0, credit); err != nil {
		t.Fatalf("SettleRotation: %v", err)
	}
	if len(tracker.Rewardees()) != 0 {
		t.Fatalf("expected tracker reset after settle, got %v", tracker.Rewardees())
	}
}

func TestSettleRotationToleratesNoRewardEpoch(t *testing.T) {
	tracker := coinbase.NewTracker(nil)
	credit := newStubCredit()
	if err := SettleRotation(tracker, 3, big.NewInt(100), big.NewInt(0), 0, credit); err != nil {
		t.Fatalf("expected ErrNoReward to be tolerated as a no-op, got %v", err)
	}
}
