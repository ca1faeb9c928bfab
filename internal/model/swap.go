package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapReceipt records one executed swap.
type SwapReceipt struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Router    common.Address
	TxHash    common.Hash
}
