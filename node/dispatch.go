package node

import (
	"context"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/libp2p/go-libp2p-core/peer"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/ds"
	"github.com/shardcore/corenode/transport"
	"github.com/shardcore/corenode/viewchange"
)

// voteFrame is the wire body for a single committee member's cs1/cs2
// vote: which committee seat cast it and the serialized BLS signature,
// per §6.1's consensus-user framing.
type voteFrame struct {
	Index     int
	Signature []byte
}

// viewChangeFrame is the wire body for one member's view-change vote.
type viewChangeFrame struct {
	Member       int
	M1Signature  []byte
	M2Signature  []byte
	M3Signature  []byte
	PreparedHash []byte
}

// registerHandlers installs one Handler per transport.Type, routing each
// inbound frame by its Instruction the way the teacher's
// HandleMessageUpdate switch routes by (type, instruction) in
// node/node.go, generalized onto this module's ds.Machine admission gate
// and consensus.Coordinator active round instead of Harmony's
// blockchain/txpool handlers.
func (n *Node) registerHandlers() {
	n.host.RegisterHandler(transport.TypeNode, n.handleNodeFrame)
	n.host.RegisterHandler(transport.TypeConsensusUser, n.handleConsensusFrame)
}

func (n *Node) handleNodeFrame(f transport.Frame, from peer.ID) {
	switch f.Instruction {
	case transport.InstructionForwardTransaction:
		n.handleForwardedTransaction(f.Body)
	case transport.InstructionDSBlock:
		n.handleDSBlockAnnounce(f.Body)
	case transport.InstructionFinalBlock:
		n.handleFinalBlockAnnounce(f.Body)
	case transport.InstructionMicroBlock:
		n.handleMicroBlockSubmission(f.Body)
	default:
		n.logger.Debug().Uint8("instruction", uint8(f.Instruction)).Msg("node: unhandled node-type instruction")
	}
}

func (n *Node) handleConsensusFrame(f transport.Frame, from peer.ID) {
	switch f.Instruction {
	case transport.InstructionCS1Vote:
		n.handleCS1Vote(f.Body)
	case transport.InstructionCS2Vote:
		n.handleCS2Vote(f.Body)
	case transport.InstructionViewChangeVote:
		n.handleViewChangeVote(f.Body)
	default:
		n.logger.Debug().Uint8("instruction", uint8(f.Instruction)).Msg("node: unhandled consensus instruction")
	}
}

// handleForwardedTransaction admits a gossiped transaction into the tx
// pool, gated on ds.Machine accepting microblock-submission-phase
// traffic per spec.md §4.3's admission whitelist.
func (n *Node) handleForwardedTransaction(body []byte) {
	if err := n.machine.Admit(ds.InstructionMicroBlockSubmission); err != nil {
		n.logger.Debug().Err(err).Msg("node: dropped forwarded transaction, not admitted")
		return
	}
	var tx block.Transaction
	if err := rlp.DecodeBytes(body, &tx); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed forwarded transaction")
		return
	}
	if !n.txPool.Add(tx, n.accounts) {
		n.logger.Debug().Msg("node: transaction rejected or duplicate")
	}
}

// handleCS1Vote feeds a remote committee member's cs1 vote into whatever
// round is currently active on the consensus coordinator. There is
// nothing to admit-gate here beyond a round actually being in flight:
// the active Round itself rejects unknown members and bad signatures.
func (n *Node) handleCS1Vote(body []byte) {
	round := n.consensus.ActiveRound()
	if round == nil {
		return
	}
	var v voteFrame
	if err := rlp.DecodeBytes(body, &v); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed cs1 vote")
		return
	}
	if err := round.SubmitCS1(v.Index, v.Signature); err != nil {
		n.logger.Debug().Err(err).Int("index", v.Index).Msg("node: rejected cs1 vote")
	}
}

func (n *Node) handleCS2Vote(body []byte) {
	round := n.consensus.ActiveRound()
	if round == nil {
		return
	}
	var v voteFrame
	if err := rlp.DecodeBytes(body, &v); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed cs2 vote")
		return
	}
	if err := round.SubmitCS2(v.Index, v.Signature); err != nil {
		n.logger.Debug().Err(err).Int("index", v.Index).Msg("node: rejected cs2 vote")
	}
}

// handleDSBlockAnnounce admits a replicated DS-block header, gated on
// the DS-block-consensus phase of the admission whitelist.
func (n *Node) handleDSBlockAnnounce(body []byte) {
	if err := n.machine.Admit(ds.InstructionDSBlockConsensus); err != nil {
		n.logger.Debug().Err(err).Msg("node: dropped ds-block announce, not admitted")
		return
	}
	var hdr block.DSBlockHeader
	if err := rlp.DecodeBytes(body, &hdr); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed ds-block header")
		return
	}
	if err := n.dsChain.AddBlock(&hdr); err != nil {
		n.logger.Warn().Err(err).Uint64("blockNum", hdr.BlockNum).Msg("node: failed to store ds-block")
	}
}

// handleFinalBlockAnnounce admits a replicated final (tx) block header
// for this node's own shard, gated on the final-block-consensus phase.
func (n *Node) handleFinalBlockAnnounce(body []byte) {
	if err := n.machine.Admit(ds.InstructionFinalBlockConsensus); err != nil {
		n.logger.Debug().Err(err).Msg("node: dropped final-block announce, not admitted")
		return
	}
	var hdr block.TxBlockHeader
	if err := rlp.DecodeBytes(body, &hdr); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed final-block header")
		return
	}
	sc, ok := n.txChains[hdr.ShardID]
	if !ok {
		n.logger.Debug().Uint32("shard", hdr.ShardID).Msg("node: final-block announce for unknown shard")
		return
	}
	if err := sc.store.AddBlock(&hdr); err != nil {
		n.logger.Warn().Err(err).Uint64("blockNum", hdr.BlockNum).Msg("node: failed to store final block")
		return
	}
	sc.recordFinalized(&hdr, n.txPool.Drain())
}

// microBlockFrame is the wire body a shard's committee submits to the DS
// committee once its own consensus round settles, per spec.md §4.3.4.
type microBlockFrame struct {
	ShardID    uint32
	Empty      bool
	BlockHash  [32]byte
	ProposerPK string
	Cosigners  []string
}

func (n *Node) handleMicroBlockSubmission(body []byte) {
	if err := n.machine.Admit(ds.InstructionMicroBlockSubmission); err != nil {
		n.logger.Debug().Err(err).Msg("node: dropped microblock submission, not admitted")
		return
	}
	var mb microBlockFrame
	if err := rlp.DecodeBytes(body, &mb); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed microblock submission")
		return
	}
	n.currentMicroBlocks().Submit(ds.MicroBlockSubmissionResult{
		ShardID:    mb.ShardID,
		Empty:      mb.Empty,
		BlockHash:  mb.BlockHash,
		ProposerPK: mb.ProposerPK,
		Cosigners:  mb.Cosigners,
	})
}

// handleViewChangeVote feeds a remote replica's view-change ballot into
// whatever viewchange.Controller runViewChange currently has active. A
// vote arriving with no round in flight (e.g. this replica hasn't
// noticed the timeout yet) is dropped rather than buffered.
func (n *Node) handleViewChangeVote(body []byte) {
	if err := n.machine.Admit(ds.InstructionViewChange); err != nil {
		n.logger.Debug().Err(err).Msg("node: dropped view-change vote, not admitted")
		return
	}
	ctrl := n.activeViewChange()
	if ctrl == nil {
		return
	}
	var v viewChangeFrame
	if err := rlp.DecodeBytes(body, &v); err != nil {
		n.logger.Warn().Err(err).Msg("node: malformed view-change vote")
		return
	}
	ctrl.RecordVote(viewchange.MemberVote{
		Member:       v.Member,
		M1Signature:  v.M1Signature,
		M2Signature:  v.M2Signature,
		M3Signature:  v.M3Signature,
		PreparedHash: v.PreparedHash,
	})
}

// broadcastVote serializes and publishes this replica's own cs1/cs2 vote
// to the round's committee group, the transport-level counterpart to
// Round.Run signing and submitting the vote locally.
func (n *Node) broadcastVote(ctx context.Context, shardID uint32, instr transport.Instruction, index int, sig []byte) error {
	body, err := rlp.EncodeToBytes(voteFrame{Index: index, Signature: sig})
	if err != nil {
		return err
	}
	return n.host.Broadcast(ctx, groupID(shardID), transport.Frame{
		Type:        transport.TypeConsensusUser,
		Instruction: instr,
		Body:        body,
	})
}
