package consensus

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/harmony-one/bls/ffi/go/bls"

	"github.com/shardcore/corenode/ds"
)

func TestCoordinatorRunRoundReachesQuorumViaActiveRound(t *testing.T) {
	members, secrets := newTestCommittee(t, 3)
	pubKeyLookup := map[string]*bls.PublicKey{}
	pubKeys := make([]string, len(members))
	for i, m := range members {
		pubKeyLookup[m.PubKey] = m.Public
		pubKeys[i] = m.PubKey
	}
	resolve := func(pk string) *bls.PublicKey { return pubKeyLookup[pk] }

	quorumFn := func(n int) int { return n } // require unanimity for this small test committee

	coordinators := make([]*Coordinator, len(members))
	for i := range members {
		coordinators[i] = NewCoordinator(secrets[i], i, quorumFn, time.Second, resolve)
	}

	blockHash := common.HexToHash("0xabc")
	type outcome struct {
		res ds.RoundResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := coordinators[0].RunRound(blockHash, pubKeys)
		done <- outcome{res, err}
	}()

	// Wait for coordinator 0's round to be published, then feed the other
	// two replicas' cs1 votes in.
	var active *Round
	for i := 0; i < 200; i++ {
		active = coordinators[0].ActiveRound()
		if active != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if active == nil {
		t.Fatalf("expected active round to be published")
	}

	for i := 1; i < len(members); i++ {
		sig := secrets[i].SignHash(blockHash[:])
		if err := active.SubmitCS1(i, sig.Serialize()); err != nil {
			t.Fatalf("SubmitCS1(%d): %v", i, err)
		}
	}

	cs1Agg, b1 := waitCS1(t, active)
	payload := cs2Payload(cs1Agg, b1)
	for i := 1; i < len(members); i++ {
		sig := secrets[i].SignHash(payload)
		if err := active.SubmitCS2(i, sig.Serialize()); err != nil {
			t.Fatalf("SubmitCS2(%d): %v", i, err)
		}
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("RunRound: %v", out.err)
	}
	if len(out.res.RewardCosigners) != 2*len(members) {
		t.Fatalf("expected every member counted twice, got %d", len(out.res.RewardCosigners))
	}
}

func waitCS1(t *testing.T, r *Round) (*bls.Sign, Bitmap) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if agg, bitmap, ok := r.cs1.result(); ok {
			return agg, bitmap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cs1 never reached quorum")
	return nil, nil
}
