package ds

import (
	"math/big"
	"testing"
)

func hotEpoch(n int) []EpochBlockUsage {
	out := make([]EpochBlockUsage, n)
	for i := range out {
		out[i] = EpochBlockUsage{GasUsed: 90, GasLimit: 100}
	}
	return out
}

func coldEpoch(n int) []EpochBlockUsage {
	out := make([]EpochBlockUsage, n)
	for i := range out {
		out[i] = EpochBlockUsage{GasUsed: 10, GasLimit: 100}
	}
	return out
}

func TestAdjustRaisesPriceWhenEpochRunsHot(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	got := c.Adjust(hotEpoch(10), nil)
	if got.Cmp(big.NewInt(100)) <= 0 {
		t.Fatalf("expected price to rise above 100, got %s", got)
	}
}

func TestAdjustDecreasesTowardMedianProposalWhenEpochRunsCold(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	proposals := []*big.Int{big.NewInt(40), big.NewInt(50), big.NewInt(60)}
	got := c.Adjust(coldEpoch(10), proposals)
	if got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected price to fall to the median proposal 50, got %s", got)
	}
}

func TestAdjustHoldsWhenColdButNoProposalsSubmitted(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	got := c.Adjust(coldEpoch(10), nil)
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected price to hold with nothing to decrease toward, got %s", got)
	}
}

func TestAdjustHoldsInMiddleBand(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	mid := []EpochBlockUsage{
		{GasUsed: 90, GasLimit: 100}, // full
		{GasUsed: 10, GasLimit: 100}, // not full
	}
	got := c.Adjust(mid, []*big.Int{big.NewInt(1)})
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected price to hold at 100, got %s", got)
	}
}

func TestAdjustNeverFallsBelowMinPrice(t *testing.T) {
	bounds := DefaultGasPriceBounds()
	bounds.MinPrice = big.NewInt(5)
	c := NewGasPriceController(bounds, big.NewInt(6))
	proposals := []*big.Int{big.NewInt(1)}
	got := c.Adjust(coldEpoch(10), proposals)
	if got.Cmp(bounds.MinPrice) < 0 {
		t.Fatalf("expected price floored at MinPrice=5, got %s", got)
	}
}

func TestAdjustNeverRaisesPriceTowardAHigherMedian(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	got := c.Adjust(coldEpoch(10), []*big.Int{big.NewInt(500)})
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected price to hold rather than rise toward a higher proposal, got %s", got)
	}
}

func TestAdjustHoldsWithNoPriorEpochBlocks(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	got := c.Adjust(nil, []*big.Int{big.NewInt(1)})
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected price to hold with no prior epoch to measure, got %s", got)
	}
}

func TestAdjustIgnoresZeroGasLimitBlocks(t *testing.T) {
	c := NewGasPriceController(DefaultGasPriceBounds(), big.NewInt(100))
	got := c.Adjust([]EpochBlockUsage{{GasUsed: 0, GasLimit: 0}}, nil)
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected zero-gas-limit block to leave price unchanged, got %s", got)
	}
}
