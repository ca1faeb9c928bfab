package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gauge reads staking state for one CL gauge and builds stake calldata.
type Gauge struct {
	Address common.Address
	caller  Caller
}

func NewGauge(address common.Address, caller Caller) *Gauge {
	return &Gauge{Address: address, caller: caller}
}

// Pool returns the pool this gauge stakes positions of.
func (g *Gauge) Pool(ctx context.Context) (common.Address, error) {
	gauge, err := GaugeABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse gauge abi: %w", err)
	}
	values, err := callMethod(ctx, g.caller, g.Address, gauge, "pool")
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// StakedTokenIDs enumerates the LP NFTs the depositor has staked,
// preferring the bulk read and falling back to per-index iteration for
// gauges that lack it.
func (g *Gauge) StakedTokenIDs(ctx context.Context, depositor common.Address) ([]*big.Int, error) {
	gauge, err := GaugeABI()
	if err != nil {
		return nil, fmt.Errorf("parse gauge abi: %w", err)
	}

	if values, err := callMethod(ctx, g.caller, g.Address, gauge, "stakedValues", depositor); err == nil {
		if ids, ok := values[0].([]*big.Int); ok {
			return ids, nil
		}
	}

	values, err := callMethod(ctx, g.caller, g.Address, gauge, "stakedLength", depositor)
	if err != nil {
		return nil, err
	}
	count, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("stakedLength: %w", err)
	}

	ids := make([]*big.Int, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		values, err := callMethod(ctx, g.caller, g.Address, gauge, "stakedByIndex", depositor, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("stakedByIndex: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Earned reads the claimable reward for one staked NFT.
func (g *Gauge) Earned(ctx context.Context, account common.Address, tokenID *big.Int) (*big.Int, error) {
	gauge, err := GaugeABI()
	if err != nil {
		return nil, fmt.Errorf("parse gauge abi: %w", err)
	}
	values, err := callMethod(ctx, g.caller, g.Address, gauge, "earned", account, tokenID)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// DepositCalldata packs a gauge deposit (stake).
func (g *Gauge) DepositCalldata(tokenID *big.Int) ([]byte, error) {
	gauge, err := GaugeABI()
	if err != nil {
		return nil, fmt.Errorf("parse gauge abi: %w", err)
	}
	data, err := gauge.Pack("deposit", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack deposit: %w", err)
	}
	return data, nil
}

// WithdrawCalldata packs a gauge withdraw (unstake).
func (g *Gauge) WithdrawCalldata(tokenID *big.Int) ([]byte, error) {
	gauge, err := GaugeABI()
	if err != nil {
		return nil, fmt.Errorf("parse gauge abi: %w", err)
	}
	data, err := gauge.Pack("withdraw", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack withdraw: %w", err)
	}
	return data, nil
}
