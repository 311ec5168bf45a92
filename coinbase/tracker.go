// Package coinbase implements per-epoch cosign accounting and reward
// splitting: CoinbaseTracker accumulates which addresses cosigned which
// microblocks/final-blocks during an epoch, then on a non-vacuous final
// block splits the epoch's total reward evenly across every cosign event
// and hands the remainder to a single deterministic "lucky" address.
// Grounded on spec.md §4.5 and the teacher's reward-control-contract
// override pattern (consensus/leader.go's external-account lookup idiom).
package coinbase

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrNoReward is returned by Settle when no cosign events were recorded
// for the epoch being rewarded (sigCount == 0) — a division that must
// never silently happen, spelled out as an explicit error instead.
var ErrNoReward = errors.New("coinbase: no cosign events recorded, nothing to reward")

// Rewardees maps epoch -> shard (-1 for the DS committee's own
// cosigns) -> the addresses that cosigned during that epoch/shard,
// accumulated as MicroBlock and FinalBlock consensus rounds complete.
type Rewardees map[uint64]map[int32][]common.Address

// Coefficients carries the reward-split inputs, defaulting from
// configuration but overridable per spec.md §4.5 by the on-chain
// reward-control contract.
type Coefficients struct {
	CoinbaseRewardPerDS   *big.Int
	BaseRewardInPercent   uint64
	LookupRewardInPercent uint64
	PercentPrecision      uint64
	RewardEachMulInMillis uint64
	BaseRewardMulInMillis uint64
	NodeRewardInPercent   uint64
}

// DefaultCoefficients mirrors the configuration defaults used when no
// reward-control contract account exists on chain.
func DefaultCoefficients() Coefficients {
	return Coefficients{
		CoinbaseRewardPerDS:   big.NewInt(0),
		BaseRewardInPercent:   25,
		LookupRewardInPercent: 25,
		PercentPrecision:      10000,
		RewardEachMulInMillis: 1000,
		BaseRewardMulInMillis: 1000,
		NodeRewardInPercent:   50,
	}
}

// RewardControlContract is read through the external account store; it
// returns (coefficients, true) when the special account exists on chain,
// or (zero value, false) when the caller should fall back to
// DefaultCoefficients. Implemented by whatever AccountTrie/ContractStore
// the node wires in — this package only consumes the interface.
type RewardControlContract interface {
	ReadCoefficients() (Coefficients, bool)
}

// Credit moves a reward amount into an address's balance. Implemented by
// the node's AccountStore coinbase-temp path; this package only calls it.
type Credit interface {
	CreditCoinbase(addr common.Address, amount *big.Int) error
}

// Tracker accumulates Rewardees across an epoch and settles them into
// account credits at final-block time.
type Tracker struct {
	rewardees Rewardees
	control   RewardControlContract
}

// NewTracker builds an empty Tracker. control may be nil, in which case
// coefficients() resolves to DefaultCoefficients. Settle does not consult
// either: it splits the reward amount its caller passes in.
func NewTracker(control RewardControlContract) *Tracker {
	return &Tracker{rewardees: Rewardees{}, control: control}
}

// RecordCosign appends addr to the cosign list for (epoch, shard). shard
// is -1 for a DS committee (final-block) cosign event, >=0 for a
// microblock cosign event within that shard.
func (t *Tracker) RecordCosign(epoch uint64, shard int32, addr common.Address) {
	if t.rewardees[epoch] == nil {
		t.rewardees[epoch] = map[int32][]common.Address{}
	}
	t.rewardees[epoch][shard] = append(t.rewardees[epoch][shard], addr)
}

// Rewardees exposes the accumulated rewardee map for the caller's own
// iteration needs (e.g. ByzantineAccounting's per-member performance
// count, which walks shard -1 across the rotation).
func (t *Tracker) Rewardees() Rewardees { return t.rewardees }

// Reset clears all accumulated state, called after a vacuous epoch or
// after a successful Settle at the end of a DS rotation.
func (t *Tracker) Reset() { t.rewardees = Rewardees{} }

// coefficients resolves the effective reward coefficients: the
// reward-control contract's values when present, else the defaults.
func (t *Tracker) coefficients() Coefficients {
	if t.control != nil {
		if c, ok := t.control.ReadCoefficients(); ok {
			return c
		}
	}
	return DefaultCoefficients()
}

// Settle performs the reward split described in spec.md §4.5 for a
// completed non-vacuous epoch: coinbaseReward + accumulatedTxnFees is
// divided evenly across every recorded cosign event across the whole
// rotation, with the remainder awarded to a single address chosen
// deterministically from lastBlockHash16 (the low 16 bits of the previous
// TxBlock hash — the described, intentionally-insecure randomness
// source). credit is called once per recorded cosign event, plus once
// more for the lucky remainder when the even split leaves one.
func (t *Tracker) Settle(
	currentEpoch uint64,
	coinbaseReward, accumulatedTxnFees *big.Int,
	lastBlockHash16 uint16,
	credit Credit,
) error {
	sigCount := uint64(0)
	for _, shards := range t.rewardees {
		for _, addrs := range shards {
			sigCount += uint64(len(addrs))
		}
	}
	if sigCount == 0 {
		return ErrNoReward
	}

	totalReward := new(big.Int).Add(coinbaseReward, accumulatedTxnFees)
	rewardEach := new(big.Int).Div(totalReward, new(big.Int).SetUint64(sigCount))

	for epoch, shards := range t.rewardees {
		for shard, addrs := range shards {
			for _, addr := range addrs {
				if err := credit.CreditCoinbase(addr, rewardEach); err != nil {
					return errors.Wrapf(err, "crediting epoch %d shard %d address %s", epoch, shard, addr.Hex())
				}
			}
		}
	}

	distributed := new(big.Int).Mul(rewardEach, new(big.Int).SetUint64(sigCount))
	balanceLeft := new(big.Int).Sub(totalReward, distributed)
	if balanceLeft.Sign() <= 0 {
		return nil
	}

	lucky, err := t.luckyAddress(currentEpoch, lastBlockHash16)
	if err != nil {
		return errors.Wrap(err, "selecting lucky draw address")
	}
	return errors.Wrap(credit.CreditCoinbase(lucky, balanceLeft), "crediting lucky draw remainder")
}

// luckyAddress implements the deterministic lucky-draw selection:
// shardIdx = lastBlockHash16 mod (number of shards rewarded this epoch),
// then within that shard's address list, rdm = lastBlockHash16 mod
// (number of addresses).
func (t *Tracker) luckyAddress(currentEpoch uint64, lastBlockHash16 uint16) (common.Address, error) {
	shards, ok := t.rewardees[currentEpoch]
	if !ok || len(shards) == 0 {
		return common.Address{}, errors.Errorf("no rewardees recorded for epoch %d", currentEpoch)
	}

	shardIDs := make([]int32, 0, len(shards))
	for id := range shards {
		shardIDs = append(shardIDs, id)
	}
	sortInt32s(shardIDs)

	shardIdx := int(lastBlockHash16) % len(shardIDs)
	addrs := shards[shardIDs[shardIdx]]
	if len(addrs) == 0 {
		return common.Address{}, errors.Errorf("shard %d has no rewardees for epoch %d", shardIDs[shardIdx], currentEpoch)
	}
	rdm := int(lastBlockHash16) % len(addrs)
	return addrs[rdm], nil
}

// InitCoinbase credits every genesis wallet its starting balance exactly
// once, at chain start. An empty genesisWallets returns immediately with
// no writes — the node can start from a wallet-less genesis (e.g. a fresh
// test shard) without InitCoinbase needing a special case beyond the empty
// slice itself.
func InitCoinbase(genesisWallets []GenesisWallet, credit Credit) error {
	if len(genesisWallets) == 0 {
		return nil
	}
	for _, w := range genesisWallets {
		if err := credit.CreditCoinbase(w.Address, w.Balance); err != nil {
			return errors.Wrapf(err, "crediting genesis wallet %s", w.Address.Hex())
		}
	}
	return nil
}

// GenesisWallet is one starting balance entry. The actual set of genesis
// wallets is deployment configuration, not something this package defines.
type GenesisWallet struct {
	Address common.Address
	Balance *big.Int
}

// sortInt32s sorts a small slice of shard IDs in place so lucky-draw
// selection is deterministic across replicas regardless of map iteration
// order (Go's map iteration is randomized; the shard IDs it's keyed by
// are not, and must be sorted before being indexed by a deterministic
// value).
func sortInt32s(s []int32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
