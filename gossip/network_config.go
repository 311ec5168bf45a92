// Package gossip implements randomized rumor-spreading dissemination: the
// per-rumor state machine, the per-peer rumor holder that drives push/pull
// exchanges, and the network-size-derived round budgets from the
// "Randomized Rumor Spreading" paper.
package gossip

import "math"

// NetworkConfig is the immutable tuple (networkSize, maxRoundsInB,
// maxRoundsInC, maxRoundsTotal) that every RumorStateMachine in a given
// RumorHolder shares. Construct with NewNetworkConfig for the
// paper-theoretic defaults, or NewNetworkConfigWithRounds to override them
// (tests, simulation harnesses).
type NetworkConfig struct {
	networkSize   int
	maxRoundsInB  int
	maxRoundsInC  int
	maxRoundsTotal int
}

// NewNetworkConfig derives maxRoundsInB = maxRoundsInC = max(1,
// ceil(ln(ln(n)))) and maxRoundsTotal = ceil(ln(n)), per the paper.
func NewNetworkConfig(networkSize int) NetworkConfig {
	n := float64(networkSize)
	magic := int(math.Ceil(math.Log(math.Log(n))))
	maxB := magic
	if maxB < 1 {
		maxB = 1
	}
	return NetworkConfig{
		networkSize:   networkSize,
		maxRoundsInB:  maxB,
		maxRoundsInC:  maxB,
		maxRoundsTotal: int(math.Ceil(math.Log(n))),
	}
}

// NewNetworkConfigWithRounds builds a NetworkConfig from explicit round
// budgets, bypassing the theoretic derivation.
func NewNetworkConfigWithRounds(networkSize, maxRoundsInB, maxRoundsInC, maxRoundsTotal int) NetworkConfig {
	return NetworkConfig{
		networkSize:   networkSize,
		maxRoundsInB:  maxRoundsInB,
		maxRoundsInC:  maxRoundsInC,
		maxRoundsTotal: maxRoundsTotal,
	}
}

// NetworkSize returns the configured peer count.
func (c NetworkConfig) NetworkSize() int { return c.networkSize }

// MaxRoundsInB returns the round budget for state NEW.
func (c NetworkConfig) MaxRoundsInB() int { return c.maxRoundsInB }

// MaxRoundsInC returns the round budget for state KNOWN.
func (c NetworkConfig) MaxRoundsInC() int { return c.maxRoundsInC }

// MaxRoundsTotal returns the overall termination round budget.
func (c NetworkConfig) MaxRoundsTotal() int { return c.maxRoundsTotal }

// Valid reports the guaranteed invariant maxRoundsTotal >= maxRoundsInB > 0.
// (The tighter phrasing maxRoundsTotal >= maxRoundsInB+maxRoundsInC, stated
// descriptively alongside the data model, does not hold for very small n
// under the paper-theoretic defaults since maxRoundsInB and maxRoundsInC
// are equal by construction there; the property actually guaranteed and
// exercised by tests is this one.)
func (c NetworkConfig) Valid() bool {
	return c.maxRoundsInB > 0 && c.maxRoundsTotal >= c.maxRoundsInB
}
