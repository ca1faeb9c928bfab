package clmath

import (
	"errors"

	ui "github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick usable on any pool.
	MinTick = -887272
	// MaxTick is the highest tick usable on any pool.
	MaxTick = -MinTick
)

// ErrInvalidRange reports a tick range that cannot be built: a non-positive
// spacing or multiplier, or a range that collapsed to zero width after
// alignment.
var ErrInvalidRange = errors.New("invalid tick range")

// Q96 is 2^96, the fixed-point scale of sqrtPriceX96.
var Q96 = new(ui.Int).Lsh(ui.NewInt(1), 96)

var sqrtRatioMultipliers = []string{
	"0xfff97272373d413259a46990580e213a",
	"0xfff2e50f5f656932ef12357cf3c7fdcc",
	"0xffe5caca7e10e4e61c3624eaa0941cd0",
	"0xffcb9843d60f6159c9db58835c926644",
	"0xff973b41fa98c081472e6896dfb254c0",
	"0xff2ea16466c96a3843ec78b326b52861",
	"0xfe5dee046a99a2a811c461f1969c3053",
	"0xfcbe86c7900a88aedcffc83b479aa3a4",
	"0xf987a7253ac413176f2b074cf7815e54",
	"0xf3392b0822b70005940c7a398e4b70f3",
	"0xe7159475a2c29b7443b29c7fa6e889d9",
	"0xd097f3bdfd2022b8845ad8f792aa5825",
	"0xa9f746462d870fdf8a65dc1f90e061e5",
	"0x70d869a156d2a1b890bb3df62baf32f7",
	"0x31be135f97d08fd981231505542fcfa6",
	"0x9aa508b5b7a84e1c677de54f3e99bc9",
	"0x5d6af8dedb81196699c329225ee604",
	"0x2216e584f5fa1ea926041bedfe98",
	"0x48a170391f7dc42444e8fa2",
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 fixed-point value.
// The tick must be within [MinTick, MaxTick].
func SqrtRatioAtTick(tick int) *ui.Int {
	absTick := tick
	if tick < 0 {
		absTick = -tick
	}
	if absTick > MaxTick {
		panic("clmath: tick out of range")
	}

	var ratio *ui.Int
	if absTick&0x1 != 0 {
		ratio, _ = ui.FromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	} else {
		ratio, _ = ui.FromHex("0x100000000000000000000000000000000")
	}
	for i, multiplier := range sqrtRatioMultipliers {
		if absTick&(1<<(uint(i)+1)) != 0 {
			ratio = mulShift(ratio, multiplier)
		}
	}

	if tick > 0 {
		max := new(ui.Int).Not(ui.NewInt(0))
		ratio = new(ui.Int).Div(max, ratio)
	}

	// Round up, then shift from Q128 down to Q96.
	ratio.Add(ratio, ui.NewInt(0xFFFFFFFF))
	ratio.Rsh(ratio, 32)
	return ratio
}

func mulShift(value *ui.Int, hexMultiplier string) *ui.Int {
	multiplier, err := ui.FromHex(hexMultiplier)
	if err != nil {
		panic("clmath: bad multiplier constant")
	}
	return new(ui.Int).Rsh(new(ui.Int).Mul(value, multiplier), 128)
}
