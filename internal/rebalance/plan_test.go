package rebalance

import (
	"math/big"
	"testing"

	"rangekeeper/internal/model"
)

func usdc(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), big.NewInt(1_000_000))
}

func TestComputePlanBelowRange(t *testing.T) {
	ratio := model.RatioResult{Token0Ratio: 1, BelowRange: true}
	bal1 := usdc(500)

	plan := ComputePlan(ratio, new(big.Int), bal1, 18, 6, 0, 20)
	if plan.Skip {
		t.Fatalf("expected a swap")
	}
	if plan.TokenInIs0 {
		t.Fatalf("below range must swap token1 in")
	}
	if plan.AmountIn.Cmp(bal1) != 0 {
		t.Fatalf("amount in %s, want the whole token1 balance %s", plan.AmountIn, bal1)
	}
}

func TestComputePlanBelowRangeEmptySide(t *testing.T) {
	ratio := model.RatioResult{Token0Ratio: 1, BelowRange: true}

	plan := ComputePlan(ratio, usdc(100), new(big.Int), 18, 6, 0, 20)
	if !plan.Skip {
		t.Fatalf("nothing to swap when the input side is empty")
	}
}

func TestComputePlanAboveRange(t *testing.T) {
	ratio := model.RatioResult{Token1Ratio: 1}
	bal0 := big.NewInt(3e18)

	plan := ComputePlan(ratio, bal0, new(big.Int), 18, 6, 0, 20)
	if plan.Skip {
		t.Fatalf("expected a swap")
	}
	if !plan.TokenInIs0 {
		t.Fatalf("above range must swap token0 in")
	}
	if plan.AmountIn.Cmp(bal0) != 0 {
		t.Fatalf("amount in %s, want the whole token0 balance %s", plan.AmountIn, bal0)
	}
}

func TestComputePlanDustImbalance(t *testing.T) {
	// A 50/50 target with 106 vs 94 units of value held: token0 sits 6
	// above its 100 target in token1 terms, under the 20 minimum, so
	// nothing moves.
	ratio := model.RatioResult{Token0Ratio: 0.5, Token1Ratio: 0.5, InRange: true}

	plan := ComputePlan(ratio, usdc(106), usdc(94), 6, 6, 0, 20)
	if !plan.Skip {
		t.Fatalf("imbalance of %v should be left alone", plan.DeltaValue)
	}
	if plan.DeltaValue < 5.9 || plan.DeltaValue > 6.1 {
		t.Fatalf("delta value %v, want ~6", plan.DeltaValue)
	}
}

func TestComputePlanExcessToken0(t *testing.T) {
	// Equal decimals at tick 0 price 1:1. Holding 300 vs 100 against a
	// 50/50 target leaves 100 of excess token0 value.
	ratio := model.RatioResult{Token0Ratio: 0.5, Token1Ratio: 0.5, InRange: true}

	plan := ComputePlan(ratio, usdc(300), usdc(100), 6, 6, 0, 20)
	if plan.Skip {
		t.Fatalf("expected a swap, delta %v", plan.DeltaValue)
	}
	if !plan.TokenInIs0 {
		t.Fatalf("excess token0 must swap token0 in")
	}
	want := usdc(100)
	diff := new(big.Int).Sub(plan.AmountIn, want)
	if diff.CmpAbs(big.NewInt(1_000)) > 0 {
		t.Fatalf("amount in %s, want ~%s", plan.AmountIn, want)
	}
}

func TestComputePlanExcessToken1(t *testing.T) {
	ratio := model.RatioResult{Token0Ratio: 0.5, Token1Ratio: 0.5, InRange: true}

	plan := ComputePlan(ratio, usdc(100), usdc(300), 6, 6, 0, 20)
	if plan.Skip {
		t.Fatalf("expected a swap, delta %v", plan.DeltaValue)
	}
	if plan.TokenInIs0 {
		t.Fatalf("excess token1 must swap token1 in")
	}
	want := usdc(100)
	diff := new(big.Int).Sub(plan.AmountIn, want)
	if diff.CmpAbs(big.NewInt(1_000)) > 0 {
		t.Fatalf("amount in %s, want ~%s", plan.AmountIn, want)
	}
}

func TestComputePlanClampsToBalance(t *testing.T) {
	// An extreme target cannot spend more than the wallet holds.
	ratio := model.RatioResult{Token0Ratio: 0.0, Token1Ratio: 1.0, InRange: true}

	bal0 := usdc(50)
	plan := ComputePlan(ratio, bal0, new(big.Int), 6, 6, 0, 20)
	if plan.Skip {
		t.Fatalf("expected a swap")
	}
	if plan.AmountIn.Cmp(bal0) > 0 {
		t.Fatalf("amount in %s exceeds balance %s", plan.AmountIn, bal0)
	}
}

func TestComputePlanNilBalances(t *testing.T) {
	ratio := model.RatioResult{Token0Ratio: 0.5, Token1Ratio: 0.5, InRange: true}

	plan := ComputePlan(ratio, nil, nil, 6, 6, 0, 20)
	if !plan.Skip {
		t.Fatalf("nil balances should skip")
	}
}
