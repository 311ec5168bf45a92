package gossip

import (
	"math/rand"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrUnknownPeer is returned when a caller references a peer that was never
// added to the holder's peer list.
var ErrUnknownPeer = errors.New("gossip: peer not known to this holder")

// Holder is a single peer's view of all active rumors: it owns one
// StateMachine per rumor ID and decides, each round, which messages to
// emit and to whom. Grounded on the reference implementation's RumorMember
// (thread-safe via a single mutex, exactly as spec.md §5 prescribes for
// RumorHolder).
type Holder struct {
	mu sync.Mutex

	selfID int
	config NetworkConfig
	logger zerolog.Logger

	peers               []int
	peerIndex           map[int]int // peerID -> index into peers, for O(1) membership
	peersInCurrentRound mapset.Set
	nonPriorityPeers    mapset.Set
	rumors              map[int]*StateMachine

	maxNeighborsPerRound int
	rng                  *rand.Rand
}

// NewHolder constructs a Holder for selfID with the given peer set and
// network config. maxNeighborsPerRound bounds per-round fan-out; the
// reference implementation defaults this to a small constant (commonly 3)
// but leaves it configurable.
func NewHolder(selfID int, peers []int, config NetworkConfig, maxNeighborsPerRound int, logger zerolog.Logger) *Holder {
	idx := make(map[int]int, len(peers))
	cp := make([]int, 0, len(peers))
	for _, p := range peers {
		if p == selfID {
			continue // selfID must never appear in peers
		}
		if _, dup := idx[p]; dup {
			continue
		}
		idx[p] = len(cp)
		cp = append(cp, p)
	}
	return &Holder{
		selfID:               selfID,
		config:                config,
		logger:                logger,
		peers:                 cp,
		peerIndex:             idx,
		peersInCurrentRound:   mapset.NewThreadUnsafeSet(),
		nonPriorityPeers:      mapset.NewThreadUnsafeSet(),
		rumors:                make(map[int]*StateMachine),
		maxNeighborsPerRound:  maxNeighborsPerRound,
		rng:                   rand.New(rand.NewSource(int64(selfID) + 1)),
	}
}

// SelfID returns this holder's own peer id.
func (h *Holder) SelfID() int { return h.selfID }

// AddRumor inserts a fresh NEW-state rumor under the holder's config.
// Returns false if the rumor id is already tracked.
func (h *Holder) AddRumor(rumorID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rumors[rumorID]; exists {
		return false
	}
	h.rumors[rumorID] = NewRumorStateMachine(h.config)
	return true
}

// RumorExists reports whether rumorID is tracked by this holder.
func (h *Holder) RumorExists(rumorID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rumors[rumorID]
	return ok
}

// IsOld reports whether rumorID has reached the terminal OLD state. A
// rumor never seen returns false (not yet known, not dismissed).
func (h *Holder) IsOld(rumorID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sm, ok := h.rumors[rumorID]
	return ok && sm.IsOld()
}

// ReceivedMessage processes an inbound Message from fromPeer. It returns
// the peer to reply to (always fromPeer) and the replies to send.
// Guarded by the holder-wide lock; never suspends while held.
func (h *Holder) ReceivedMessage(msg Message, fromPeer int) (replyTo int, replies []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	alreadyInRound := h.peersInCurrentRound.Contains(fromPeer)
	h.peersInCurrentRound.Add(fromPeer)

	if msg.RumorID >= 0 {
		h.mergeRumor(msg.RumorID, fromPeer, msg.Rounds)
	}

	if alreadyInRound {
		// Duplicate receipt within the same round suppresses the
		// per-rumor PULL response burst.
		return fromPeer, nil
	}

	if msg.Type != Push && msg.Type != EmptyPush {
		return fromPeer, nil
	}

	for rumorID, sm := range h.rumors {
		if sm.Age() > 0 && !sm.IsOld() {
			replies = append(replies, newPull(rumorID, sm.Age()))
		}
	}

	if len(replies) == 0 {
		replies = []Message{newEmptyPull()}
		h.nonPriorityPeers.Add(fromPeer)
	}

	return fromPeer, replies
}

// mergeRumor updates or creates the rumor's state machine on receipt of a
// message carrying a rumor id.
func (h *Holder) mergeRumor(rumorID, fromPeer, theirAge int) {
	sm, ok := h.rumors[rumorID]
	if !ok {
		h.rumors[rumorID] = NewRumorStateMachineFromPeer(h.config, fromPeer, theirAge)
		return
	}
	sm.OnRumorReceived(fromPeer, theirAge)
}

// AdvanceRound selects this round's push targets and advances every
// tracked, non-OLD rumor's state machine, returning the targets and the
// messages to send to each of them (the same message set goes to every
// target — a broadcast push, not per-target customization).
func (h *Holder) AdvanceRound() (targets []int, messages []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.peers) == 0 {
		h.resetRoundState()
		return nil, nil
	}

	targets = h.selectTargets()

	for rumorID, sm := range h.rumors {
		if sm.IsOld() {
			continue
		}
		sm.AdvanceRound(h.peersInCurrentRound)
		messages = append(messages, newPush(rumorID, sm.Age()))
	}

	if len(messages) == 0 {
		messages = []Message{newEmptyPush()}
	}

	h.resetRoundState()
	return targets, messages
}

func (h *Holder) resetRoundState() {
	h.peersInCurrentRound = mapset.NewThreadUnsafeSet()
	h.nonPriorityPeers = mapset.NewThreadUnsafeSet()
}

// selectTargets picks up to maxNeighborsPerRound peers, preferring those
// outside nonPriorityPeers. If the priority pool is too small it falls
// back to including non-priority peers so the round still emits its full
// fan-out. Per spec.md §4.2/§9: retry up to max(peerCount-maxNeighbors, 3)
// attempts before falling back to a deterministic scan.
func (h *Holder) selectTargets() []int {
	want := h.maxNeighborsPerRound
	if want > len(h.peers) {
		want = len(h.peers)
	}

	chosen := mapset.NewThreadUnsafeSet()
	result := make([]int, 0, want)

	maxRetry := len(h.peers) - h.maxNeighborsPerRound
	if maxRetry < 3 {
		maxRetry = 3
	}

	for attempt := 0; attempt < maxRetry && len(result) < want; attempt++ {
		candidate := h.peers[h.rng.Intn(len(h.peers))]
		if chosen.Contains(candidate) {
			continue
		}
		if h.nonPriorityPeers.Contains(candidate) {
			continue
		}
		chosen.Add(candidate)
		result = append(result, candidate)
	}

	// Fall back: scan peers in insertion order, including non-priority
	// ones, until the fan-out target is honoured or peers are exhausted.
	if len(result) < want {
		for _, candidate := range h.peers {
			if len(result) >= want {
				break
			}
			if chosen.Contains(candidate) {
				continue
			}
			chosen.Add(candidate)
			result = append(result, candidate)
		}
	}

	return result
}
