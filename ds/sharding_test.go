package ds

import "testing"

func TestShuffleIsDeterministicForSameRandomness(t *testing.T) {
	members := []string{"c", "a", "b", "d"}
	first := Shuffle(members, 42)
	second := Shuffle(members, 42)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical shuffle for same seed, diverged at %d", i)
		}
	}
}

func TestShuffleIsOrderIndependentOnInput(t *testing.T) {
	a := Shuffle([]string{"c", "a", "b"}, 7)
	b := Shuffle([]string{"a", "b", "c"}, 7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected shuffle independent of input order, diverged at %d", i)
		}
	}
}

func TestAssignNewNodesBalancesSmallestShardFirst(t *testing.T) {
	state := ShardState{
		{{PubKey: "x"}, {PubKey: "y"}},
		{},
	}
	state = assignNewNodes(state, []string{"n1", "n2"})
	if len(state[1]) != 2 {
		t.Fatalf("expected newcomers to fill the smaller shard first, got sizes %d,%d", len(state[0]), len(state[1]))
	}
}

func TestCuckooReshardingNeverMovesLeaders(t *testing.T) {
	state := ShardState{
		{{PubKey: "leader0", IsLeader: true}, {PubKey: "m1"}, {PubKey: "m2"}},
		{{PubKey: "leader1", IsLeader: true}},
	}
	out := cuckooResharding(state, 1)
	found := false
	for _, m := range out[0] {
		if m.PubKey == "leader0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected leader0 to remain in shard 0")
	}
}

func TestReshardRemovesByzantineMembersAndPlacesWinners(t *testing.T) {
	current := ShardState{
		{{PubKey: "leader0", IsLeader: true}, {PubKey: "bad"}},
		{{PubKey: "leader1", IsLeader: true}},
	}
	removed := map[string]bool{"bad": true}
	next := Reshard(current, removed, []string{"new1"}, 2, 99)

	for _, members := range next {
		for _, m := range members {
			if m.PubKey == "bad" {
				t.Fatalf("expected removed member to be dropped from resharded state")
			}
		}
	}

	total := 0
	newFound := false
	for _, members := range next {
		total += len(members)
		for _, m := range members {
			if m.PubKey == "new1" {
				newFound = true
			}
		}
	}
	if !newFound {
		t.Fatalf("expected new winner to be placed into resulting shard state")
	}
	if total != 3 {
		t.Fatalf("expected 3 total members (2 leaders + 1 winner), got %d", total)
	}
}

func TestHashIsStableAndSensitiveToMembership(t *testing.T) {
	a := ShardState{{{PubKey: "x", IsLeader: true}}}
	b := ShardState{{{PubKey: "y", IsLeader: true}}}
	if a.Hash() == b.Hash() {
		t.Fatalf("expected different membership to produce different hash")
	}
	if a.Hash() != a.Hash() {
		t.Fatalf("expected stable hash for same state")
	}
}
