package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool captures immutable V3 pool metadata.
type Pool struct {
	Address     common.Address
	Token0      common.Address
	Token1      common.Address
	Fee         uint32
	TickSpacing int
}

// Slot0 is a pool's fast-changing price view.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int
}
