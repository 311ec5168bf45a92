package gossip

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
)

// State is the lifecycle phase of a single rumor as observed by a single
// peer. UNKNOWN is never constructed directly by StateMachine — it exists
// only to make ticking an unseeded rumor a detectable programming error.
type State int

const (
	Unknown State = iota
	New
	Known
	Old
)

func (s State) String() string {
	switch s {
	case New:
		return "NEW"
	case Known:
		return "KNOWN"
	case Old:
		return "OLD"
	default:
		return "UNKNOWN"
	}
}

// StateMachine is the per-rumor, per-peer lifecycle: UNKNOWN -> NEW ->
// KNOWN -> OLD, driven by round ticks (AdvanceRound) and peer observations
// (OnRumorReceived). Grounded on the reference implementation's
// RumorStateMachine (libRumorSpreading).
type StateMachine struct {
	config      NetworkConfig
	state       State
	age         int
	roundsInB   int
	roundsInC   int
	memberRounds map[int]int // peerID -> round at which they reported seeing it
}

// NewRumorStateMachine creates a state machine in NEW, age 0, for a rumor
// just originated or first observed locally.
func NewRumorStateMachine(config NetworkConfig) *StateMachine {
	return &StateMachine{
		config:       config,
		state:        New,
		memberRounds: make(map[int]int),
	}
}

// NewRumorStateMachineFromPeer creates a state machine in NEW for a rumor
// first learned about from fromMember reporting theirRound. If theirRound
// already exceeds the total round budget the rumor starts OLD.
func NewRumorStateMachineFromPeer(config NetworkConfig, fromMember, theirRound int) *StateMachine {
	sm := &StateMachine{
		config:       config,
		state:        New,
		memberRounds: make(map[int]int),
	}
	if theirRound > config.MaxRoundsTotal() {
		sm.state = Old
		sm.memberRounds = nil
		return sm
	}
	sm.memberRounds[fromMember] = theirRound
	return sm
}

// State returns the current lifecycle phase.
func (sm *StateMachine) State() State { return sm.state }

// Age returns the number of round ticks this rumor has observed.
func (sm *StateMachine) Age() int { return sm.age }

// IsOld reports whether the rumor has reached its terminal state.
func (sm *StateMachine) IsOld() bool { return sm.state == Old }

// OnRumorReceived records that peerID reports having seen the rumor at
// theirAge. A no-op unless the local state is NEW (§4.1 operation
// onRumorReceived) — KNOWN/OLD rumors ignore further observations.
func (sm *StateMachine) OnRumorReceived(peerID, theirAge int) {
	if sm.state != New {
		return
	}
	if existing, ok := sm.memberRounds[peerID]; !ok || theirAge > existing {
		sm.memberRounds[peerID] = theirAge
	}
}

// AdvanceRound ticks this rumor forward by one round. Calling this while
// UNKNOWN is a programming error (a rumor should never be ticked before it
// is seeded) and panics, matching the reference implementation's
// std::logic_error.
func (sm *StateMachine) AdvanceRound(peersInCurrentRound mapset.Set) {
	sm.age++
	switch sm.state {
	case New:
		sm.advanceFromNew(peersInCurrentRound)
	case Known:
		sm.advanceFromKnown()
	case Old:
		// terminal drift: age keeps incrementing but nothing else changes.
	case Unknown:
		panic(fmt.Sprintf("gossip: AdvanceRound called on UNKNOWN rumor state machine"))
	}
}

// advanceFromNew implements spec.md §4.1.1.
func (sm *StateMachine) advanceFromNew(peersInCurrentRound mapset.Set) {
	sm.roundsInB++
	if sm.age > sm.config.MaxRoundsTotal() {
		sm.toOld()
		return
	}

	for peerID := range peersInCurrentRound.Iter() {
		id := peerID.(int)
		if _, ok := sm.memberRounds[id]; !ok {
			sm.memberRounds[id] = 0
		}
	}

	less, greaterOrEqual := 0, 0
	for _, theirRound := range sm.memberRounds {
		switch {
		case theirRound < sm.age:
			less++
		case theirRound > sm.config.MaxRoundsInB():
			sm.state = Known
		default:
			greaterOrEqual++
		}
	}

	if greaterOrEqual > less {
		sm.roundsInB++ // the paper's catch-up rule: a second bump in the same tick
	}

	if sm.roundsInB > sm.config.MaxRoundsInB() {
		sm.state = Known
	}

	sm.memberRounds = make(map[int]int)
}

// advanceFromKnown implements spec.md §4.1.2.
func (sm *StateMachine) advanceFromKnown() {
	sm.roundsInC++
	if sm.age > sm.config.MaxRoundsTotal() || sm.roundsInC > sm.config.MaxRoundsInC() {
		sm.toOld()
	}
}

func (sm *StateMachine) toOld() {
	sm.state = Old
	sm.memberRounds = nil
}
