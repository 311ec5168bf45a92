// Package ds implements DSStateMachine: the control loop that drives a
// directory-service committee through PoW admission, committee rotation,
// shard assignment, microblock aggregation, final-block consensus, and
// view-change. Grounded on spec.md §4.3 and, for the suspend-on-
// out-of-state-message behavior, the teacher's convention of modeling
// condition-variable waits as buffered channels with time.After rather
// than raw sync.Cond (see consensus_v2.go's phase-transition style and
// DESIGN.md's concurrency notes).
package ds

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// State is one of the ten control-loop states spec.md §4.3 names.
type State int

const (
	PowSubmission State = iota
	DSBlockConsensusPrep
	DSBlockConsensus
	ShardingConsensusPrep
	ShardingConsensus
	MicroBlockSubmission
	FinalBlockConsensusPrep
	FinalBlockConsensus
	ViewChangeConsensusPrep
	ViewChangeConsensus
)

func (s State) String() string {
	switch s {
	case PowSubmission:
		return "POW_SUBMISSION"
	case DSBlockConsensusPrep:
		return "DSBLOCK_CONSENSUS_PREP"
	case DSBlockConsensus:
		return "DSBLOCK_CONSENSUS"
	case ShardingConsensusPrep:
		return "SHARDING_CONSENSUS_PREP"
	case ShardingConsensus:
		return "SHARDING_CONSENSUS"
	case MicroBlockSubmission:
		return "MICROBLOCK_SUBMISSION"
	case FinalBlockConsensusPrep:
		return "FINALBLOCK_CONSENSUS_PREP"
	case FinalBlockConsensus:
		return "FINALBLOCK_CONSENSUS"
	case ViewChangeConsensusPrep:
		return "VIEWCHANGE_CONSENSUS_PREP"
	case ViewChangeConsensus:
		return "VIEWCHANGE_CONSENSUS"
	default:
		return "UNKNOWN"
	}
}

// Instruction is the wire instruction byte carried by inbound messages,
// used to look the message up in the per-state admission whitelist.
type Instruction int

const (
	InstructionPoWSubmission Instruction = iota
	InstructionDSBlockConsensus
	InstructionShardingConsensus
	InstructionMicroBlockSubmission
	InstructionFinalBlockConsensus
	InstructionViewChange
)

// admissionWhitelist maps each state to the instructions it accepts.
// Everything else is dropped (non-fatal) per spec.md §4.3's admission
// gate description.
var admissionWhitelist = map[State]map[Instruction]bool{
	PowSubmission:           {InstructionPoWSubmission: true},
	DSBlockConsensusPrep:    {InstructionDSBlockConsensus: true},
	DSBlockConsensus:        {InstructionDSBlockConsensus: true, InstructionViewChange: true},
	ShardingConsensusPrep:   {InstructionShardingConsensus: true},
	ShardingConsensus:       {InstructionShardingConsensus: true, InstructionViewChange: true},
	MicroBlockSubmission:    {InstructionMicroBlockSubmission: true},
	FinalBlockConsensusPrep: {InstructionFinalBlockConsensus: true},
	FinalBlockConsensus:     {InstructionFinalBlockConsensus: true, InstructionViewChange: true},
	ViewChangeConsensusPrep: {InstructionViewChange: true},
	ViewChangeConsensus:     {InstructionViewChange: true},
}

// suspendableInstructions names the two instructions whose handlers
// suspend on the matching per-phase mailbox, rather than dropping
// immediately, when they arrive for a state the machine has not yet
// entered — PoW submissions and FinalBlock messages, absorbing late
// arrivals from slow peers for up to their configured timeout.
var suspendableInstructions = map[Instruction]bool{
	InstructionPoWSubmission:      true,
	InstructionFinalBlockConsensus: true,
}

// Timeouts bundles the configuration-derived durations the state machine
// waits on.
type Timeouts struct {
	PoWSubmission          time.Duration
	FinalBlockConsensusObject time.Duration
	ConsensusObject        time.Duration
	MicroBlock             time.Duration
}

// DefaultTimeouts mirrors the teacher's BlockTime-derived defaults (8s
// block cadence): 8s for consensus objects and microblocks, 10s for PoW
// submission and the final-block consensus object.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PoWSubmission:             10 * time.Second,
		FinalBlockConsensusObject: 10 * time.Second,
		ConsensusObject:           8 * time.Second,
		MicroBlock:                8 * time.Second,
	}
}

// Mailbox is an unbuffered channel that is closed to wake every waiter,
// standing in for a condition variable: a handler that receives an out-of-state message for a state
// not yet entered parks on Wait(timeout) instead of dropping the message,
// and AdvanceTo wakes every mailbox whose state was just entered.
type Mailbox struct {
	ch chan struct{}
}

func newMailbox() *Mailbox {
	return &Mailbox{ch: make(chan struct{})}
}

// Wait blocks until the mailbox's state is entered or timeout elapses,
// returning false on timeout.
func (m *Mailbox) Wait(timeout time.Duration) bool {
	select {
	case <-m.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// wake broadcasts to every waiter by closing and replacing the channel.
func (m *Mailbox) wake() {
	close(m.ch)
	m.ch = make(chan struct{})
}

// Machine is the DS control loop state holder. Exactly one mutex guards
// `state`, matching spec.md §5's "one state mutex" description; the
// per-state condition variables become one Mailbox per suspendable
// instruction.
type Machine struct {
	mu       sync.Mutex
	state    State
	epoch    uint64
	blockNum uint64
	timeouts Timeouts
	logger   zerolog.Logger

	mailboxes map[Instruction]*Mailbox
}

// NewMachine builds a Machine starting in POW_SUBMISSION at the given
// epoch/blockNum.
func NewMachine(epoch, blockNum uint64, timeouts Timeouts, logger zerolog.Logger) *Machine {
	m := &Machine{
		state:     PowSubmission,
		epoch:     epoch,
		blockNum:  blockNum,
		timeouts:  timeouts,
		logger:    logger,
		mailboxes: map[Instruction]*Mailbox{},
	}
	for instr := range suspendableInstructions {
		m.mailboxes[instr] = newMailbox()
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the current DS epoch number.
func (m *Machine) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// ErrRejected is returned by Admit for a message whose instruction isn't
// on the current state's whitelist and isn't suspendable.
var ErrRejected = errors.New("ds: message rejected by admission whitelist")

// Admit applies the per-state admission whitelist of spec.md §4.3 to an
// inbound instruction. If the instruction is accepted in the current
// state, Admit returns nil immediately. If it is not accepted but is one
// of the suspendable instructions (PoW submission, FinalBlock), Admit
// blocks on that instruction's mailbox for the matching timeout, retrying
// the whitelist check once woken; if the mailbox times out, Admit returns
// ErrRejected. Any other rejected instruction is dropped immediately
// (ErrRejected, non-fatal).
func (m *Machine) Admit(instr Instruction) error {
	if m.accepts(instr) {
		return nil
	}
	if !suspendableInstructions[instr] {
		return ErrRejected
	}

	timeout := m.timeoutFor(instr)
	mailbox := m.mailboxFor(instr)
	if mailbox.Wait(timeout) && m.accepts(instr) {
		return nil
	}
	return ErrRejected
}

func (m *Machine) accepts(instr Instruction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return admissionWhitelist[m.state][instr]
}

func (m *Machine) timeoutFor(instr Instruction) time.Duration {
	switch instr {
	case InstructionPoWSubmission:
		return m.timeouts.PoWSubmission
	case InstructionFinalBlockConsensus:
		return m.timeouts.FinalBlockConsensusObject
	default:
		return m.timeouts.ConsensusObject
	}
}

func (m *Machine) mailboxFor(instr Instruction) *Mailbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mailboxes[instr]
}

// AdvanceTo transitions the machine to next, waking any mailboxes whose
// instruction is now admitted so waiters retry immediately instead of
// blocking out their full timeout.
func (m *Machine) AdvanceTo(next State) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()

	for instr, mailbox := range m.mailboxes {
		if admissionWhitelist[next][instr] {
			mailbox.wake()
		}
	}
	m.logger.Info().Stringer("state", next).Msg("ds: state transition")
}
