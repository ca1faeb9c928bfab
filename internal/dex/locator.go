package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrPoolNotFound reports that no configured factory knows a pool for
// the pair at any configured fee tier.
var ErrPoolNotFound = errors.New("pool not found")

// PoolLocator resolves a token pair to a pool address by probing the
// configured factories and fee tiers in order. The first non-zero answer
// wins, so list order is the operator's priority order.
type PoolLocator struct {
	factories []common.Address
	feeTiers  []uint32
	caller    Caller
}

func NewPoolLocator(factories []common.Address, feeTiers []uint32, caller Caller) *PoolLocator {
	return &PoolLocator{factories: factories, feeTiers: feeTiers, caller: caller}
}

// Locate returns the first pool any factory reports for the pair.
func (l *PoolLocator) Locate(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	factory, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}

	for _, factoryAddr := range l.factories {
		for _, tier := range l.feeTiers {
			values, err := callMethod(ctx, l.caller, factoryAddr, factory, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(tier)))
			if err != nil {
				continue
			}
			pool, err := asAddress(values[0])
			if err != nil {
				continue
			}
			if pool != (common.Address{}) {
				return pool, nil
			}
		}
	}

	return common.Address{}, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, tokenA.Hex(), tokenB.Hex())
}
