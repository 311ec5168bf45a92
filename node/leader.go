package node

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/shardcore/corenode/block"
	"github.com/shardcore/corenode/byzantine"
	"github.com/shardcore/corenode/coinbase"
	"github.com/shardcore/corenode/consensus"
	"github.com/shardcore/corenode/cryptoutil"
	"github.com/shardcore/corenode/ds"
	"github.com/shardcore/corenode/transport"
	"github.com/shardcore/corenode/viewchange"
)

// leaderSleepPeriod is how long the proposal loop backs off after a
// failed DS-block proposal attempt before retrying.
const leaderSleepPeriod = 20 * time.Millisecond

// viewChangeEscalationPeriod bounds how long one candidate leader gets
// to reach quorum before the round escalates to the next candidate,
// per spec.md §4.3.6.
const viewChangeEscalationPeriod = 5 * time.Second

// isLeader reports whether this replica is seat 0 of the current
// committee order — the fixed leader convention spec.md §4.3.2 assumes
// outside of an active view-change round (view-change rotation is
// handled separately by viewchange.Controller).
func (n *Node) isLeader() bool {
	return n.selfIndex == 0
}

// RunLeaderLoop drives the DS committee's proposal cycle for as long as
// ctx stays alive: propose a DS-block, run its consensus round, store
// it, then cycle through microblock collection into a final-block
// proposal and its own consensus round, settling rewards once a
// rotation completes. Grounded on the teacher's StartLeaderWork, which
// drives the same propose-announce-finalize-repeat cycle off
// Consensus.ProposalNewBlock/CommitFinishChan; generalized here onto
// ds.Machine's explicit state transitions instead of Harmony's
// consensus-internal channels.
func (n *Node) RunLeaderLoop(ctx context.Context) error {
	if !n.isLeader() {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.runDSBlockCycle(ctx) })
	return g.Wait()
}

func (n *Node) runDSBlockCycle(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n.machine.AdvanceTo(ds.DSBlockConsensusPrep)
		proposal, hdr, err := n.proposeDSBlock()
		if err != nil {
			n.logger.Warn().Err(err).Msg("node: ds-block proposal failed")
			time.Sleep(leaderSleepPeriod)
			continue
		}

		n.machine.AdvanceTo(ds.DSBlockConsensus)
		result, err := n.consensus.RunRound(hdr.Hash(), pubKeys(n.committeeOrder))
		if err != nil {
			n.logger.Warn().Err(err).Msg("node: ds-block consensus round failed")
			if err == consensus.ErrRoundTimedOut {
				if vcErr := n.runViewChange(ctx); vcErr != nil {
					n.logger.Warn().Err(vcErr).Msg("node: view-change failed")
				}
			}
			continue
		}
		hdr.CoSig = result.CoSig

		if err := n.dsChain.AddBlock(hdr); err != nil {
			return errors.Wrap(err, "node: storing committed ds-block")
		}
		if err := n.announceDSBlock(ctx, hdr); err != nil {
			n.logger.Warn().Err(err).Msg("node: failed to announce ds-block")
		}

		if err := n.runFinalBlockCycle(ctx, proposal); err != nil {
			n.logger.Warn().Err(err).Msg("node: final-block cycle failed")
		}
	}
}

// proposeDSBlock composes this rotation's DS-block proposal and a header
// shell around it (everything but the CoSignatures, which the consensus
// round fills in once quorum is reached).
func (n *Node) proposeDSBlock() (ds.DSBlockProposal, *block.DSBlockHeader, error) {
	last, err := n.dsChain.GetLastBlock()
	var blockNum, epoch uint64
	var prevHash [32]byte
	if err == nil {
		dsHdr := last.(*block.DSBlockHeader)
		blockNum = dsHdr.BlockNum + 1
		epoch = dsHdr.EpochNum + 1
		prevHash = dsHdr.Hash()
	}

	// epochBlocks is nil: this implementation doesn't yet meter gas per
	// transaction (block.Transaction carries no gas fields), so there is
	// no per-TxBlock usage to aggregate. GasPriceController.Adjust treats
	// that as "nothing to measure" and returns the current price
	// unchanged; this round's submitted gas-price proposals are not
	// consulted either.
	proposal := ds.ComposeDSBlockProposal(
		epoch, n.powPool, n.perf, n.committeeOrder,
		ds.NumFinalBlockPerPoW, nil, n.numShards, epoch, n.gasPrice,
		nil,
	)

	hdr := &block.DSBlockHeader{
		BlockNum:     blockNum,
		EpochNum:     epoch,
		PrevHash:     prevHash,
		LeaderPubKey: []byte(n.selfPK),
		ShardingHash: proposal.ShardingHash,
		Timestamp:    uint64(time.Now().Unix()),
	}
	return proposal, hdr, nil
}

// nextFinalBlockNum returns this shard's next sequential block number,
// continuing across rotations rather than restarting at zero each time
// runFinalBlockCycle is entered.
func (n *Node) nextFinalBlockNum() uint64 {
	sc, ok := n.txChains[n.shardID]
	if !ok {
		return 0
	}
	last, err := sc.store.GetLastBlock()
	if err != nil {
		return 0
	}
	return last.Number() + 1
}

func (n *Node) announceDSBlock(ctx context.Context, hdr *block.DSBlockHeader) error {
	body, err := rlp.EncodeToBytes(hdr)
	if err != nil {
		return err
	}
	return n.host.Broadcast(ctx, groupID(dsGroupID), transport.Frame{
		Type:        transport.TypeNode,
		Instruction: transport.InstructionDSBlock,
		Body:        body,
	})
}

func (n *Node) announceFinalBlock(ctx context.Context, hdr *block.TxBlockHeader) error {
	body, err := rlp.EncodeToBytes(hdr)
	if err != nil {
		return err
	}
	return n.host.Broadcast(ctx, groupID(n.shardID), transport.Frame{
		Type:        transport.TypeNode,
		Instruction: transport.InstructionFinalBlock,
		Body:        body,
	})
}

// runFinalBlockCycle drives NumFinalBlockPerPoW rounds of
// microblock-collection -> final-block consensus -> reward settlement
// for the rotation this DS-block just opened.
func (n *Node) runFinalBlockCycle(ctx context.Context, proposal ds.DSBlockProposal) error {
	var lastHash common.Hash
	for round := uint32(0); round < ds.NumFinalBlockPerPoW; round++ {
		n.machine.AdvanceTo(ds.MicroBlockSubmission)
		n.waitForMicroBlocks(ctx)

		n.machine.AdvanceTo(ds.FinalBlockConsensusPrep)
		final := ds.ComposeFinalBlockProposal(proposal.Epoch, uint64(round), n.currentMicroBlocks(), n.coinbaseTracker, n.registry.addressFor)

		n.machine.AdvanceTo(ds.FinalBlockConsensus)
		blockNum := n.nextFinalBlockNum()
		hdr := &block.TxBlockHeader{
			ShardID:   n.shardID,
			BlockNum:  blockNum,
			EpochNum:  final.Epoch,
			Timestamp: uint64(time.Now().Unix()),
		}
		result, err := n.consensus.RunRound(hdr.Hash(), pubKeys(n.committeeOrder))
		if err != nil {
			if err == consensus.ErrRoundTimedOut {
				if vcErr := n.runViewChange(ctx); vcErr != nil {
					n.logger.Warn().Err(vcErr).Msg("node: view-change failed")
				}
			}
			return errors.Wrap(err, "final-block consensus round")
		}
		hdr.CoSig = result.CoSig
		lastHash = hdr.Hash()
		n.perf.RecordCosigns(asByzantinePubKeys(result.RewardCosigners))

		sc, ok := n.txChains[n.shardID]
		if ok {
			if err := sc.store.AddBlock(hdr); err != nil {
				n.logger.Warn().Err(err).Msg("node: storing committed final block")
			} else {
				sc.recordFinalized(hdr, n.txPool.Drain())
			}
		}
		if err := n.announceFinalBlock(ctx, hdr); err != nil {
			n.logger.Warn().Err(err).Msg("node: failed to announce final block")
		}

		ds.RecordDSCommitteeCosign(n.coinbaseTracker, final.Epoch, result.RewardCosigners, n.registry.addressFor)

		n.resetMicroBlocks(n.numShards)

		if final.Vacuous {
			continue
		}
	}

	lastHash16 := uint16(lastHash[len(lastHash)-2])<<8 | uint16(lastHash[len(lastHash)-1])
	return n.settleRotation(proposal.Epoch, lastHash16)
}

// waitForMicroBlocks admits microblock submissions until every shard has
// reported or the shard's own microblock timeout elapses, per
// spec.md §4.3.4.
func (n *Node) waitForMicroBlocks(ctx context.Context) {
	deadline := time.NewTimer(8 * time.Second)
	defer deadline.Stop()
	for !n.currentMicroBlocks().Ready() {
		select {
		case <-ctx.Done():
			n.currentMicroBlocks().MarkTimedOut()
			return
		case <-deadline.C:
			n.currentMicroBlocks().MarkTimedOut()
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// settleRotation pays out the rotation's accumulated coinbase reward and
// resets the tracker, called once NumFinalBlockPerPoW final blocks have
// been produced. lastBlockHash16 feeds the lucky-draw remainder
// selection (spec.md §4.5): the low 16 bits of the final final-block's
// hash in the rotation just closed. The per-DS coinbase reward comes
// from coinbase.DefaultCoefficients rather than a wired
// RewardControlContract (no on-chain contract account exists in this
// tree); accumulated transaction fees are zero since block.Transaction
// carries no gas-price field to accrue fees from.
func (n *Node) settleRotation(epoch uint64, lastBlockHash16 uint16) error {
	coinbaseReward := coinbase.DefaultCoefficients().CoinbaseRewardPerDS
	return ds.SettleRotation(
		n.coinbaseTracker, epoch,
		coinbaseReward, big.NewInt(0), lastBlockHash16,
		n.accounts,
	)
}

// runViewChange drives a view-change round after a consensus round times
// out: broadcasts this replica's own ballot, collects remote ballots
// through the active viewchange.Controller, and escalates through
// candidate leaders until one reaches quorum or ctx ends. Every local
// vote carries M2 rather than M1 — this tree doesn't track a
// separately-prepared block outside the active consensus Round, so there
// is nothing to certify as PREPARED once that round has already timed
// out. On success the committee order is rotated so the elected
// candidate occupies seat 0, matching isLeader's fixed-seat-0
// convention, and runDSBlockCycle/runFinalBlockCycle simply retry with
// the new order. Grounded on spec.md §4.3.6 and the teacher's
// view-change escalation loop in consensus/consensus_view_change.go.
func (n *Node) runViewChange(ctx context.Context) error {
	n.machine.AdvanceTo(ds.ViewChangeConsensusPrep)
	n.machine.AdvanceTo(ds.ViewChangeConsensus)

	ctrl := viewchange.NewController(len(n.committeeOrder), 0)
	n.setViewChange(ctrl)
	defer n.clearViewChange()

	vote := n.ownViewChangeVote()
	ctrl.RecordVote(vote)
	if err := n.broadcastViewChangeVote(ctx, vote); err != nil {
		n.logger.Warn().Err(err).Msg("node: failed to broadcast view-change vote")
	}

	escalate := time.NewTimer(viewChangeEscalationPeriod)
	defer escalate.Stop()
	for {
		if agg, err := ctrl.TryFinalize(); err == nil {
			n.rotateToLeader(ctrl.CandidateLeader())
			n.logger.Info().Ints("m3", viewchange.BitmapMembers(agg.M3Bitmap)).Int("leader", ctrl.CandidateLeader()).
				Msg("node: view-change elected new leader")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-escalate.C:
			ctrl.Escalate()
			escalate.Reset(viewChangeEscalationPeriod)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// ownViewChangeVote signs this replica's M2 (nil) and M3 (new-view)
// ballots for the round currently active.
func (n *Node) ownViewChangeVote() viewchange.MemberVote {
	sig := cryptoutil.Sign(n.selfKey, []byte("view-change-nil"))
	return viewchange.MemberVote{Member: n.selfIndex, M2Signature: sig, M3Signature: sig}
}

// rotateToLeader reorders committeeOrder so candidate occupies seat 0
// and updates selfIndex to track this replica's new seat within it.
func (n *Node) rotateToLeader(candidate int) {
	if candidate <= 0 || candidate >= len(n.committeeOrder) {
		return
	}
	rotated := make([]byzantine.PublicKey, 0, len(n.committeeOrder))
	rotated = append(rotated, n.committeeOrder[candidate:]...)
	rotated = append(rotated, n.committeeOrder[:candidate]...)
	for i, pk := range rotated {
		if string(pk) == n.selfPK {
			n.selfIndex = i
			break
		}
	}
	n.committeeOrder = rotated
}

// broadcastViewChangeVote publishes this replica's own view-change
// ballot to the DS committee's group.
func (n *Node) broadcastViewChangeVote(ctx context.Context, v viewchange.MemberVote) error {
	body, err := rlp.EncodeToBytes(viewChangeFrame{
		Member:       v.Member,
		M1Signature:  v.M1Signature,
		M2Signature:  v.M2Signature,
		M3Signature:  v.M3Signature,
		PreparedHash: v.PreparedHash,
	})
	if err != nil {
		return err
	}
	return n.host.Broadcast(ctx, groupID(dsGroupID), transport.Frame{
		Type:        transport.TypeConsensusUser,
		Instruction: transport.InstructionViewChangeVote,
		Body:        body,
	})
}

func pubKeys(order []byzantine.PublicKey) []string {
	out := make([]string, len(order))
	for i, pk := range order {
		out[i] = string(pk)
	}
	return out
}

func asByzantinePubKeys(in []string) []byzantine.PublicKey {
	out := make([]byzantine.PublicKey, len(in))
	for i, s := range in {
		out[i] = byzantine.PublicKey(s)
	}
	return out
}
