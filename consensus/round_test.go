package consensus

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/harmony-one/bls/ffi/go/bls"

	"github.com/shardcore/corenode/ds"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(err)
	}
}

func newTestCommittee(t *testing.T, n int) ([]Member, []*bls.SecretKey) {
	t.Helper()
	members := make([]Member, n)
	secrets := make([]*bls.SecretKey, n)
	for i := 0; i < n; i++ {
		sk := &bls.SecretKey{}
		sk.SetByCSPRNG()
		secrets[i] = sk
		pub := sk.GetPublicKey()
		members[i] = Member{PubKey: pub.SerializeToHexStr(), Public: pub}
	}
	return members, secrets
}

func TestRoundReachesQuorumAcrossBothPhases(t *testing.T) {
	members, secrets := newTestCommittee(t, 4)
	quorum := 3
	blockHash := common.HexToHash("0x01")

	rounds := make([]*Round, len(members))
	for i := range members {
		rounds[i] = NewRound(members, secrets[i], i, quorum, 2*time.Second, blockHash)
	}

	results := make(chan error, len(rounds))
	done := make(chan ds.RoundResult, 1)

	go func() {
		res, err := rounds[0].Run()
		if err != nil {
			results <- err
			return
		}
		done <- res
		results <- nil
	}()

	// Simulate the other replicas broadcasting their cs1 votes to replica 0.
	for i := 1; i < quorum; i++ {
		sig := secrets[i].SignHash(blockHash[:])
		if err := rounds[0].SubmitCS1(i, sig.Serialize()); err != nil {
			t.Fatalf("SubmitCS1(%d): %v", i, err)
		}
	}

	// Wait for cs1 to close before computing cs2 payloads.
	deadline := time.After(time.Second)
	for {
		if _, _, ok := rounds[0].cs1.result(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cs1 never reached quorum")
		case <-time.After(time.Millisecond):
		}
	}

	cs1Agg, b1, _ := rounds[0].cs1.result()
	payload := cs2Payload(cs1Agg, b1)
	for i := 1; i < quorum; i++ {
		sig := secrets[i].SignHash(payload)
		if err := rounds[0].SubmitCS2(i, sig.Serialize()); err != nil {
			t.Fatalf("SubmitCS2(%d): %v", i, err)
		}
	}

	if err := <-results; err != nil {
		t.Fatalf("Run: %v", err)
	}
	result := <-done
	if len(result.CoSig.CS1) == 0 || len(result.CoSig.CS2) == 0 {
		t.Fatalf("expected both cs1 and cs2 aggregate signatures populated")
	}
	if len(result.RewardCosigners) != 2*quorum {
		t.Fatalf("expected %d reward cosign entries (quorum counted twice), got %d", 2*quorum, len(result.RewardCosigners))
	}
}

func TestSubmitCS1RejectsBadSignature(t *testing.T) {
	members, secrets := newTestCommittee(t, 3)
	blockHash := common.HexToHash("0x02")
	round := NewRound(members, secrets[0], 0, 2, time.Second, blockHash)

	wrongSig := secrets[1].SignHash(common.HexToHash("0x99")[:])
	if err := round.SubmitCS1(1, wrongSig.Serialize()); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestSubmitCS1RejectsUnknownMemberIndex(t *testing.T) {
	members, secrets := newTestCommittee(t, 2)
	blockHash := common.HexToHash("0x03")
	round := NewRound(members, secrets[0], 0, 2, time.Second, blockHash)

	sig := secrets[0].SignHash(blockHash[:])
	if err := round.SubmitCS1(5, sig.Serialize()); err != ErrUnknownMember {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
}

func TestRunTimesOutWithoutQuorum(t *testing.T) {
	members, secrets := newTestCommittee(t, 4)
	blockHash := common.HexToHash("0x04")
	round := NewRound(members, secrets[0], 0, 3, 20*time.Millisecond, blockHash)

	if _, err := round.Run(); err != ErrRoundTimedOut {
		t.Fatalf("expected ErrRoundTimedOut, got %v", err)
	}
}
