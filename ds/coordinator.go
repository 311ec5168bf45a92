package ds

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/shardcore/corenode/block"
)

// RoundResult is what a completed two-round consensus round produces: the
// CoSignatures bundle to embed in the block header, plus the reward
// accounting list spec.md §3.3 describes — a member appears once for
// cs1/b1 and again for cs2/b2, so it may appear up to twice.
type RoundResult struct {
	CoSig           block.CoSignatures
	RewardCosigners []string
}

// ConsensusRunner is the two-round BLS multisignature consensus the DS
// committee runs over a proposal's hash — DS-block consensus and
// FinalBlock consensus both drive one round each through this interface.
// Implemented by the consensus package; ds only depends on the
// interface, keeping the state machine independent of the signature
// scheme and network transport.
type ConsensusRunner interface {
	// RunRound drives cs1 (over blockHash) then cs2 (over cs1||b1) to
	// completion against committee, blocking until quorum is reached on
	// both rounds or the round's ConsensusObject timeout elapses.
	RunRound(blockHash common.Hash, committee []string) (RoundResult, error)
}
