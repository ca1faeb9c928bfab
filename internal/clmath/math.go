package clmath

import (
	"fmt"
	"math"
	"math/big"

	ui "github.com/holiman/uint256"

	"rangekeeper/internal/model"
)

// AlignMode selects the rounding direction for AlignToSpacing.
type AlignMode int

const (
	AlignFloor AlignMode = iota
	AlignCeil
)

// HumanPrice returns the token1-per-token0 price in decimal-adjusted units.
// Diagnostic and ratio math only, never a minimum-output bound.
func HumanPrice(tick int, dec0, dec1 uint8) float64 {
	return math.Pow(1.0001, float64(tick)) * math.Pow(10, float64(dec0)-float64(dec1))
}

// RatioForRange returns the value split the range (tickLower, tickUpper)
// demands at currentTick. Outside the range the split is all-one-token.
func RatioForRange(currentTick, tickLower, tickUpper int, dec0, dec1 uint8) model.RatioResult {
	if currentTick < tickLower {
		return model.RatioResult{Token0Ratio: 1, Token1Ratio: 0, BelowRange: true}
	}
	if currentTick > tickUpper {
		return model.RatioResult{Token0Ratio: 0, Token1Ratio: 1}
	}
	if currentTick == tickLower {
		// Entering the range from below the position is still all token0.
		return model.RatioResult{Token0Ratio: 1, Token1Ratio: 0, InRange: true}
	}

	sqrtCur := math.Pow(1.0001, float64(currentTick)/2)
	sqrtLower := math.Pow(1.0001, float64(tickLower)/2)
	sqrtUpper := math.Pow(1.0001, float64(tickUpper)/2)

	// Raw amount ratio amount0/amount1 for one unit of liquidity.
	rawRatio := (1/sqrtCur - 1/sqrtUpper) / (sqrtCur - sqrtLower)
	humanRatio := rawRatio * math.Pow(10, float64(dec1)-float64(dec0))

	price := HumanPrice(currentTick, dec0, dec1)
	value0 := humanRatio * price
	value1 := 1.0

	total := value0 + value1
	return model.RatioResult{
		Token0Ratio: value0 / total,
		Token1Ratio: value1 / total,
		InRange:     true,
	}
}

// AmountsForLiquidity returns the raw token amounts a position of liquidity
// holds at currentTick. Observability only; slippage bounds come from quoter
// output.
func AmountsForLiquidity(liquidity *big.Int, currentTick, tickLower, tickUpper int) (*big.Int, *big.Int) {
	if liquidity == nil || liquidity.Sign() == 0 || tickLower >= tickUpper {
		return new(big.Int), new(big.Int)
	}

	l, overflow := ui.FromBig(liquidity)
	if overflow {
		return new(big.Int), new(big.Int)
	}

	sqrtLower := SqrtRatioAtTick(tickLower)
	sqrtUpper := SqrtRatioAtTick(tickUpper)

	switch {
	case currentTick < tickLower:
		return amount0ForRange(l, sqrtLower, sqrtUpper).ToBig(), new(big.Int)
	case currentTick >= tickUpper:
		return new(big.Int), amount1ForRange(l, sqrtLower, sqrtUpper).ToBig()
	default:
		sqrtCur := SqrtRatioAtTick(currentTick)
		amount0 := amount0ForRange(l, sqrtCur, sqrtUpper)
		amount1 := amount1ForRange(l, sqrtLower, sqrtCur)
		return amount0.ToBig(), amount1.ToBig()
	}
}

// amount0 = L * (sqrtB - sqrtA) * Q96 / (sqrtB * sqrtA)
func amount0ForRange(liquidity, sqrtA, sqrtB *ui.Int) *ui.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(ui.Int).Sub(sqrtB, sqrtA)
	numerator := mulDiv(liquidity, diff, sqrtB)
	return new(ui.Int).Div(new(ui.Int).Mul(numerator, Q96), new(ui.Int).Mul(sqrtA, ui.NewInt(1)))
}

// amount1 = L * (sqrtB - sqrtA) / Q96
func amount1ForRange(liquidity, sqrtA, sqrtB *ui.Int) *ui.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(ui.Int).Sub(sqrtB, sqrtA)
	return mulDiv(liquidity, diff, Q96)
}

func mulDiv(a, b, denominator *ui.Int) *ui.Int {
	result, overflow := new(ui.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		panic("clmath: mulDiv overflow")
	}
	return result
}

// AlignToSpacing rounds tick to a multiple of spacing in the given direction,
// clamped to the aligned tick bounds.
func AlignToSpacing(tick, spacing int, mode AlignMode) int {
	if spacing <= 0 {
		return tick
	}

	quotient := tick / spacing
	remainder := tick % spacing
	aligned := quotient * spacing
	if remainder != 0 {
		if mode == AlignFloor && tick < 0 {
			aligned -= spacing
		}
		if mode == AlignCeil && tick > 0 {
			aligned += spacing
		}
	}

	minAligned := (MinTick / spacing) * spacing
	if minAligned < MinTick {
		minAligned += spacing
	}
	maxAligned := (MaxTick / spacing) * spacing
	if aligned < minAligned {
		aligned = minAligned
	}
	if aligned > maxAligned {
		aligned = maxAligned
	}
	return aligned
}

// ComputeNewRange builds a fresh range centered on currentTick. The base
// half-width is 30 ticks rounded down to a multiple of spacing (30 itself
// when spacing exceeds 30), scaled by rangeMultiplier.
func ComputeNewRange(currentTick, spacing int, rangeMultiplier float64) (model.TickRange, error) {
	if spacing <= 0 {
		return model.TickRange{}, fmt.Errorf("%w: spacing %d", ErrInvalidRange, spacing)
	}
	if rangeMultiplier <= 0 {
		return model.TickRange{}, fmt.Errorf("%w: multiplier %v", ErrInvalidRange, rangeMultiplier)
	}

	base := spacing * (30 / spacing)
	if base == 0 {
		base = 30
	}
	halfWidth := int(float64(base) * rangeMultiplier)

	tickLower := AlignToSpacing(currentTick-halfWidth, spacing, AlignFloor)
	tickUpper := AlignToSpacing(currentTick+halfWidth, spacing, AlignCeil)
	if tickLower >= tickUpper {
		return model.TickRange{}, fmt.Errorf("%w: [%d, %d) at tick %d", ErrInvalidRange, tickLower, tickUpper, currentTick)
	}

	return model.TickRange{Lower: tickLower, Upper: tickUpper}, nil
}
