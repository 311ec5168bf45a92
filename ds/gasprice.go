package ds

import (
	"math/big"
	"sort"
)

// GasCongestionRate is the fraction of a block's gasLimit that marks it
// "full" for fullBlockRatio purposes, per spec.md §4.4's
// GAS_CONGESTION_RATE.
const GasCongestionRate = 0.75

// GasPriceBounds configures the congestion-ratio thresholds spec.md §4.4
// describes: gas price rises when more than UnfilledRatioHigh of the
// prior epoch's TxBlocks ran hot, falls toward the median submitted
// proposal when fewer than UnfilledRatioLow did, and otherwise holds.
type GasPriceBounds struct {
	UnfilledRatioLow  float64 // below this fraction of full blocks, price decreases
	UnfilledRatioHigh float64 // above this fraction of full blocks, price increases
	StepPercent       uint64  // percent change applied when increasing
	MinPrice          *big.Int
}

// DefaultGasPriceBounds mirrors the thresholds spec.md §4.4 names.
func DefaultGasPriceBounds() GasPriceBounds {
	return GasPriceBounds{
		UnfilledRatioLow:  0.25,
		UnfilledRatioHigh: 0.75,
		StepPercent:       10,
		MinPrice:          big.NewInt(1),
	}
}

// EpochBlockUsage is one prior-epoch TxBlock's gas usage, as much as the
// gas-price controller needs to classify it congested or not.
type EpochBlockUsage struct {
	GasUsed  uint64
	GasLimit uint64
}

// GasPriceController tracks the congestion ratio of a DS rotation's
// TxBlocks and adjusts the next rotation's minimum gas price accordingly.
type GasPriceController struct {
	bounds GasPriceBounds
	price  *big.Int
}

// NewGasPriceController starts the controller at startPrice.
func NewGasPriceController(bounds GasPriceBounds, startPrice *big.Int) *GasPriceController {
	price := new(big.Int).Set(startPrice)
	return &GasPriceController{bounds: bounds, price: price}
}

// Price returns the current minimum gas price.
func (c *GasPriceController) Price() *big.Int {
	return new(big.Int).Set(c.price)
}

// Adjust computes fullBlockRatio over epochBlocks — the fraction whose
// GasUsed meets or exceeds GasLimit*GasCongestionRate — per spec.md §4.4,
// and steps the price: above UnfilledRatioHigh raises it by StepPercent;
// below UnfilledRatioLow decreases it toward the median of proposals
// submitted alongside this round's PoW, floored at MinPrice; anything in
// between holds. An empty epochBlocks slice (no prior TxBlocks to
// measure, e.g. the rotation that follows genesis) leaves the price
// unchanged.
func (c *GasPriceController) Adjust(epochBlocks []EpochBlockUsage, proposals []*big.Int) *big.Int {
	if len(epochBlocks) == 0 {
		return c.Price()
	}

	var full int
	for _, b := range epochBlocks {
		if b.GasLimit == 0 {
			continue
		}
		if float64(b.GasUsed) >= float64(b.GasLimit)*GasCongestionRate {
			full++
		}
	}
	fullBlockRatio := float64(full) / float64(len(epochBlocks))

	switch {
	case fullBlockRatio > c.bounds.UnfilledRatioHigh:
		c.price = stepBy(c.price, c.bounds.StepPercent, true)
	case fullBlockRatio < c.bounds.UnfilledRatioLow:
		c.price = decreaseTowardMedian(c.price, proposals, c.bounds.MinPrice)
	}
	return c.Price()
}

// decreaseTowardMedian moves price down toward the median of submitted
// gas-price proposals, never past floor and never upward. With no
// proposals to consult there's nothing to decrease toward, so price
// holds.
func decreaseTowardMedian(price *big.Int, proposals []*big.Int, floor *big.Int) *big.Int {
	median := medianOf(proposals)
	if median == nil || median.Cmp(price) >= 0 {
		return price
	}
	if median.Cmp(floor) < 0 {
		return new(big.Int).Set(floor)
	}
	return new(big.Int).Set(median)
}

func medianOf(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return new(big.Int).Div(new(big.Int).Add(sorted[mid-1], sorted[mid]), big.NewInt(2))
}

func stepBy(price *big.Int, percent uint64, up bool) *big.Int {
	delta := new(big.Int).Mul(price, big.NewInt(int64(percent)))
	delta.Div(delta, big.NewInt(100))
	if delta.Sign() == 0 {
		delta = big.NewInt(1)
	}
	if up {
		return new(big.Int).Add(price, delta)
	}
	return new(big.Int).Sub(price, delta)
}
