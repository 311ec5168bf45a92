// Package consensus implements ConsensusCoordinator: the two-round BLS381
// multisignature protocol (cs1/b1 over the proposed block, cs2/b2 over
// cs1||b1) that DSStateMachine drives for both DS-block and final-block
// consensus. Grounded on spec.md §4.9/§4.3.2's cs1/cs2 description and the
// teacher's phase-switching/quorum-counting structure in consensus_v2.go
// and leader.go (onPrepare/onCommit's Deserialize+VerifyHash pattern),
// generalized from the teacher's protobuf-coupled Announce/Prepare/Commit
// messages into direct, transport-agnostic vote submission.
package consensus

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/harmony-one/bls/ffi/go/bls"
	"github.com/pkg/errors"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/ds"
)

// Member is one committee seat's signing identity, in canonical order —
// the order both the bitmap and reward accounting are indexed by.
type Member struct {
	PubKey string
	Public *bls.PublicKey
}

var (
	// ErrUnknownMember is returned for a vote from a pubkey not in the
	// round's committee.
	ErrUnknownMember = errors.New("consensus: vote from unknown committee member")
	// ErrBadSignature is returned for a vote whose BLS signature does not
	// verify against the claimed payload.
	ErrBadSignature = errors.New("consensus: signature verification failed")
	// ErrRoundTimedOut is returned by RunRound when a phase fails to
	// reach quorum before its timeout.
	ErrRoundTimedOut = errors.New("consensus: round timed out waiting for quorum")
)

// phase tracks one round's in-progress vote collection: a bitmap plus the
// individual signatures needed to build the final aggregate once quorum
// is reached.
type phase struct {
	mu      sync.Mutex
	votes   map[int]*bls.Sign
	bitmap  Bitmap
	quorum  int
	done    chan struct{}
	closed  bool
	aggSig  *bls.Sign
}

func newPhase(n, quorum int) *phase {
	return &phase{
		votes:  map[int]*bls.Sign{},
		bitmap: NewBitmap(n),
		quorum: quorum,
		done:   make(chan struct{}),
	}
}

// submit records index's signature. Once quorum distinct indices have
// voted, the aggregate signature is computed and done is closed exactly
// once.
func (p *phase) submit(index int, sig *bls.Sign) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.votes[index]; dup {
		return
	}
	p.votes[index] = sig
	p.bitmap.Set(index)

	if p.closed || len(p.votes) < p.quorum {
		return
	}

	agg := &bls.Sign{}
	first := true
	for _, s := range p.votes {
		if first {
			*agg = *s
			first = false
			continue
		}
		agg.Add(s)
	}
	p.aggSig = agg
	p.closed = true
	close(p.done)
}

// wait blocks until quorum is reached or timeout elapses.
func (p *phase) wait(timeout time.Duration) (*bls.Sign, Bitmap, bool) {
	select {
	case <-p.done:
		return p.result()
	case <-time.After(timeout):
		return p.result()
	}
}

// result returns the phase's outcome if it has already closed, without
// blocking.
func (p *phase) result() (*bls.Sign, Bitmap, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return nil, nil, false
	}
	return p.aggSig, p.bitmap, true
}

// Round drives a single cs1/cs2 consensus round for one proposed block
// hash against a fixed committee.
type Round struct {
	committee []Member
	self      *bls.SecretKey
	selfIndex int
	quorum    int
	timeout   time.Duration
	blockHash common.Hash

	cs1 *phase
	cs2 *phase // built lazily once cs1 closes, payload depends on its result
}

// NewRound starts a round for blockHash against committee, where self is
// the local replica's secret key and selfIndex its position in committee
// (canonical order, matching viewchange.Quorum's rotation indexing).
func NewRound(committee []Member, self *bls.SecretKey, selfIndex int, quorum int, timeout time.Duration, blockHash common.Hash) *Round {
	return &Round{
		committee: committee,
		self:      self,
		selfIndex: selfIndex,
		quorum:    quorum,
		timeout:   timeout,
		blockHash: blockHash,
		cs1:       newPhase(len(committee), quorum),
	}
}

// SubmitCS1 records a remote member's cs1 vote: a signature over
// blockHash. Rejects unknown members and bad signatures; duplicate votes
// from an already-recorded member are silently ignored.
func (r *Round) SubmitCS1(index int, sigBytes []byte) error {
	if index < 0 || index >= len(r.committee) {
		return ErrUnknownMember
	}
	var sig bls.Sign
	if err := sig.Deserialize(sigBytes); err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}
	if !sig.VerifyHash(r.committee[index].Public, r.blockHash[:]) {
		return ErrBadSignature
	}
	r.cs1.submit(index, &sig)
	return nil
}

// cs2Payload is what cs2 signs over: cs1's aggregate signature
// concatenated with its bitmap, per spec.md §4.3.2 ("cs2 over (cs1 ||
// b1 bitmap)").
func cs2Payload(cs1Agg *bls.Sign, b1 Bitmap) []byte {
	payload := append([]byte{}, cs1Agg.Serialize()...)
	return append(payload, b1...)
}

// SubmitCS2 records a remote member's cs2 vote: a signature over
// cs2Payload(cs1 aggregate, b1). Must be called only after cs1 has
// reached quorum and Run has opened the cs2 phase; before that it
// returns an error.
func (r *Round) SubmitCS2(index int, sigBytes []byte) error {
	if r.cs2 == nil {
		return errors.New("consensus: cs2 phase not yet opened, cs1 has not reached quorum")
	}
	if index < 0 || index >= len(r.committee) {
		return ErrUnknownMember
	}
	var sig bls.Sign
	if err := sig.Deserialize(sigBytes); err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}

	cs1Agg, b1, ok := r.cs1.result()
	if !ok {
		return errors.New("consensus: cs1 not yet closed")
	}
	payload := cs2Payload(cs1Agg, b1)
	if !sig.VerifyHash(r.committee[index].Public, payload) {
		return ErrBadSignature
	}
	r.cs2.submit(index, &sig)
	return nil
}

// Run drives the full round: signs and submits this replica's own cs1
// vote, waits for cs1 quorum, opens the cs2 phase and signs/submits this
// replica's own cs2 vote, then waits for cs2 quorum. Remote votes must be
// fed in concurrently via SubmitCS1/SubmitCS2 as they arrive off the
// transport, exactly as viewchange.Controller.RecordVote is fed votes by
// the node's message dispatch.
func (r *Round) Run() (ds.RoundResult, error) {
	ownCS1 := r.self.SignHash(r.blockHash[:])
	if err := r.SubmitCS1(r.selfIndex, ownCS1.Serialize()); err != nil {
		return ds.RoundResult{}, err
	}

	cs1Agg, b1, ok := r.cs1.wait(r.timeout)
	if !ok {
		return ds.RoundResult{}, ErrRoundTimedOut
	}

	r.cs2 = newPhase(len(r.committee), r.quorum)
	ownCS2 := r.self.SignHash(cs2Payload(cs1Agg, b1))
	if err := r.SubmitCS2(r.selfIndex, ownCS2.Serialize()); err != nil {
		return ds.RoundResult{}, err
	}

	cs2Agg, b2, ok := r.cs2.wait(r.timeout)
	if !ok {
		return ds.RoundResult{}, ErrRoundTimedOut
	}

	var cosigners []string
	for _, idx := range b1.Indices(len(r.committee)) {
		cosigners = append(cosigners, r.committee[idx].PubKey)
	}
	for _, idx := range b2.Indices(len(r.committee)) {
		cosigners = append(cosigners, r.committee[idx].PubKey)
	}

	return ds.RoundResult{
		CoSig: block.CoSignatures{
			CS1: cs1Agg.Serialize(),
			B1:  b1,
			CS2: cs2Agg.Serialize(),
			B2:  b2,
		},
		RewardCosigners: cosigners,
	}, nil
}

// Coordinator adapts repeated Round construction into the ds.ConsensusRunner
// interface DSStateMachine drives DS-block and final-block consensus
// through.
type Coordinator struct {
	mu     sync.Mutex
	active *Round

	self      *bls.SecretKey
	selfIndex int
	quorum    func(committeeSize int) int
	timeout   time.Duration
	resolve   func(pubKey string) *bls.PublicKey
}

// NewCoordinator builds a Coordinator. quorum computes the required vote
// count for a given committee size (viewchange.Quorum's ⌈2/3·n⌉
// formula); resolve looks up a committee member's deserialized public key
// by its hex-encoded identity.
func NewCoordinator(self *bls.SecretKey, selfIndex int, quorum func(int) int, timeout time.Duration, resolve func(string) *bls.PublicKey) *Coordinator {
	return &Coordinator{self: self, selfIndex: selfIndex, quorum: quorum, timeout: timeout, resolve: resolve}
}

// RunRound implements ds.ConsensusRunner. The constructed Round is
// published via ActiveRound so the node's message dispatch can route
// incoming cs1/cs2 votes from other replicas into it while RunRound
// blocks waiting on quorum.
func (c *Coordinator) RunRound(blockHash common.Hash, committeePubKeys []string) (ds.RoundResult, error) {
	members := make([]Member, len(committeePubKeys))
	for i, pk := range committeePubKeys {
		members[i] = Member{PubKey: pk, Public: c.resolve(pk)}
	}
	round := NewRound(members, c.self, c.selfIndex, c.quorum(len(members)), c.timeout, blockHash)

	c.mu.Lock()
	c.active = round
	c.mu.Unlock()

	return round.Run()
}

// ActiveRound returns the round currently in flight, or nil if none.
func (c *Coordinator) ActiveRound() *Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
