package rebalance

import (
	"math"
	"math/big"

	"rangekeeper/internal/clmath"
	"rangekeeper/internal/model"
)

// Plan is one computed swap decision.
type Plan struct {
	// Skip is true when no swap is needed (dust delta or empty side).
	Skip bool
	// TokenInIs0 selects the input side when Skip is false.
	TokenInIs0 bool
	// AmountIn is the raw input amount when Skip is false.
	AmountIn *big.Int
	// DeltaValue is the value imbalance in token1 human units, for logs.
	DeltaValue float64
}

// ComputePlan decides what to swap so the wallet balances match the
// value split the target range demands. Out-of-range targets take the
// whole opposite side; in-range targets move only the value imbalance,
// and imbalances under minSwapValue are left alone.
func ComputePlan(ratio model.RatioResult, bal0, bal1 *big.Int, dec0, dec1 uint8, currentTick int, minSwapValue float64) Plan {
	if bal0 == nil {
		bal0 = new(big.Int)
	}
	if bal1 == nil {
		bal1 = new(big.Int)
	}

	if ratio.BelowRange {
		if bal1.Sign() == 0 {
			return Plan{Skip: true}
		}
		return Plan{TokenInIs0: false, AmountIn: new(big.Int).Set(bal1)}
	}
	if ratio.AboveRange() {
		if bal0.Sign() == 0 {
			return Plan{Skip: true}
		}
		return Plan{TokenInIs0: true, AmountIn: new(big.Int).Set(bal0)}
	}

	price := clmath.HumanPrice(currentTick, dec0, dec1)
	human0 := rawToHuman(bal0, dec0)
	human1 := rawToHuman(bal1, dec1)

	value0 := human0 * price
	total := value0 + human1
	target0 := total * ratio.Token0Ratio
	delta := value0 - target0

	if math.Abs(delta) < minSwapValue {
		return Plan{Skip: true, DeltaValue: delta}
	}

	if delta > 0 {
		// Excess token0: swap delta worth of token0 into token1.
		amountIn := humanToRaw(delta/price, dec0)
		if amountIn.Cmp(bal0) > 0 {
			amountIn.Set(bal0)
		}
		return Plan{TokenInIs0: true, AmountIn: amountIn, DeltaValue: delta}
	}

	amountIn := humanToRaw(-delta, dec1)
	if amountIn.Cmp(bal1) > 0 {
		amountIn.Set(bal1)
	}
	return Plan{TokenInIs0: false, AmountIn: amountIn, DeltaValue: delta}
}

func rawToHuman(raw *big.Int, decimals uint8) float64 {
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(math.Pow(10, float64(decimals))),
	).Float64()
	return value
}

func humanToRaw(human float64, decimals uint8) *big.Int {
	if human <= 0 {
		return new(big.Int)
	}
	raw, _ := new(big.Float).Mul(
		big.NewFloat(human),
		big.NewFloat(math.Pow(10, float64(decimals))),
	).Int(nil)
	return raw
}
