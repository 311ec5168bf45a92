// Package viewchange implements the leader-rotation protocol that
// recovers DSStateMachine from a stalled consensus round: detect timeout,
// elect the next candidate leader by deterministic rotation, aggregate
// the M1/M2/M3 signatures that prove the switch is safe, and return
// control to the state that was interrupted. Grounded on spec.md §4.3.6
// and the M1 (prepared-block)/M2 (nil)/M3 (view-id) signature roles in
// the teacher's consensus/consensus_viewchange_msg.go.
package viewchange

import (
	"github.com/Workiva/go-datastructures/bitarray"
	"github.com/pkg/errors"
)

// Header is the VCBlock header spec.md §4.3.6 describes: recorded once a
// view-change round succeeds.
type Header struct {
	ViewChangeDSEpochNo   uint64
	ViewChangeEpochNo     uint64
	ViewChangeState       string
	CandidateLeaderPubKey []byte
	FaultyLeaders         [][]byte
}

// M1Signature is a signature over (blockHash || payload) from a member
// who had already seen the block PREPARED before the timeout — proof the
// block can still be safely committed by the new leader. M2Signature is
// the nil-message signature from a member with no such prepared state.
// Exactly one of M1 or M2 is non-nil per member.
type MemberVote struct {
	Member       int
	M1Signature  []byte // over (blockHash || payload), iff the member had PREPARED
	M2Signature  []byte // over a nil sentinel, iff the member had not
	M3Signature  []byte // over the new viewID, always present
	PreparedHash []byte // the blockHash this member's M1 (if any) covers
}

// ErrNoQuorum is returned by Aggregate when fewer than quorum votes have
// been collected.
var ErrNoQuorum = errors.New("viewchange: insufficient votes for quorum")

// NextLeaderIndex implements spec.md §4.3.6's deterministic rotation:
// (currentLeader + viewCounter) mod committeeSize.
func NextLeaderIndex(currentLeader, viewCounter, committeeSize int) int {
	if committeeSize <= 0 {
		return 0
	}
	return (currentLeader + viewCounter) % committeeSize
}

// Quorum returns ⌈2/3 · committeeSize⌉.
func Quorum(committeeSize int) int {
	return (2*committeeSize + 2) / 3
}

// Aggregated is the outcome of a successful view-change round: the
// aggregated M2/M3 signatures plus which prepared block (if any) a
// majority of M1 votes agreed on and should be recommitted by the new
// leader. Each Bitmap is a committee-sized bit vector with bit i set iff
// member i contributed that signature, matching the new-view message's
// wire bitmap rather than a plain list of indices.
type Aggregated struct {
	M1Bitmap bitarray.BitArray
	M1Hash   []byte // the prepared hash to recommit, nil if none reached quorum
	M2Bitmap bitarray.BitArray
	M3Bitmap bitarray.BitArray
}

// BitmapMembers returns the committee seat indices with their bit set in
// b, in ascending order, for logging and RPC rendering.
func BitmapMembers(b bitarray.BitArray) []int {
	if b == nil {
		return nil
	}
	nums := b.ToNums()
	out := make([]int, len(nums))
	for i, n := range nums {
		out[i] = int(n)
	}
	return out
}

// Aggregate combines member votes into the new-view message's signature
// bitmaps once quorum on M3 (every vote always carries M3) is reached.
// Returns ErrNoQuorum if fewer than Quorum(committeeSize) votes are
// present. If any single prepared hash among the M1 votes itself reaches
// quorum, that hash is recorded in M1Hash so the new leader recommits the
// same block rather than proposing a fresh one.
func Aggregate(votes []MemberVote, committeeSize int) (Aggregated, error) {
	quorum := Quorum(committeeSize)
	if len(votes) < quorum {
		return Aggregated{}, ErrNoQuorum
	}

	out := Aggregated{
		M1Bitmap: bitarray.NewSparseBitArray(),
		M2Bitmap: bitarray.NewSparseBitArray(),
		M3Bitmap: bitarray.NewSparseBitArray(),
	}
	hashCounts := map[string][]int{}

	for _, v := range votes {
		out.M3Bitmap.SetBit(uint64(v.Member))
		switch {
		case len(v.M1Signature) > 0:
			out.M1Bitmap.SetBit(uint64(v.Member))
			hashCounts[string(v.PreparedHash)] = append(hashCounts[string(v.PreparedHash)], v.Member)
		case len(v.M2Signature) > 0:
			out.M2Bitmap.SetBit(uint64(v.Member))
		}
	}

	for hash, members := range hashCounts {
		if len(members) >= quorum {
			out.M1Hash = []byte(hash)
			break
		}
	}

	return out, nil
}

// Controller drives a single view-change round for one stalled consensus
// instance: collects votes, aggregates them once quorum is met, and
// reports the elected leader.
type Controller struct {
	committeeSize int
	currentLeader int
	viewCounter   int
	votes         []MemberVote
}

// NewController starts a view-change round against the given committee
// size and current (failed) leader index.
func NewController(committeeSize, currentLeader int) *Controller {
	return &Controller{committeeSize: committeeSize, currentLeader: currentLeader, viewCounter: 1}
}

// CandidateLeader returns the index of the leader this round is electing.
func (c *Controller) CandidateLeader() int {
	return NextLeaderIndex(c.currentLeader, c.viewCounter, c.committeeSize)
}

// RecordVote appends a member's vote for the current round.
func (c *Controller) RecordVote(v MemberVote) {
	c.votes = append(c.votes, v)
}

// TryFinalize attempts to aggregate the votes collected so far. On
// ErrNoQuorum, the caller should keep waiting for more votes (or time
// the round out and call Escalate).
func (c *Controller) TryFinalize() (Aggregated, error) {
	return Aggregate(c.votes, c.committeeSize)
}

// Escalate advances to the next candidate leader after this round's
// timeout expires without quorum, incrementing viewCounter and clearing
// collected votes for the new round.
func (c *Controller) Escalate() {
	c.viewCounter++
	c.votes = nil
}
