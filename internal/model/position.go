package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TickRange is a half-open tick interval [Lower, Upper).
type TickRange struct {
	Lower int
	Upper int
}

// Width returns the tick span of the range.
func (r TickRange) Width() int {
	return r.Upper - r.Lower
}

// Contains reports whether tick is inside the range. The upper bound is
// exclusive, matching the pool's in-range accounting.
func (r TickRange) Contains(tick int) bool {
	return r.Lower <= tick && tick < r.Upper
}

// Position is an LP NFT snapshot read from the position manager.
type Position struct {
	TokenID     *big.Int
	Manager     common.Address
	Token0      common.Address
	Token1      common.Address
	TickSpacing int
	Range       TickRange
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
	Staked      bool
	Gauge       common.Address
	Pool        common.Address
}

// Closed reports whether the position holds no liquidity.
func (p Position) Closed() bool {
	return p.Liquidity == nil || p.Liquidity.Sign() == 0
}

// PairMatches reports whether the position's token pair equals (token0, token1).
func (p Position) PairMatches(token0, token1 common.Address) bool {
	return p.Token0 == token0 && p.Token1 == token1
}
