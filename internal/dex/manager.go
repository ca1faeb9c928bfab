package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"rangekeeper/internal/model"
)

// maxUint128 is the collect-all sentinel for collect amount limits.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// PositionManager reads LP NFTs and builds calldata for position
// mutations. All writes go through the signer, so mutations are exposed
// as calldata builders rather than submitting methods.
type PositionManager struct {
	Address common.Address
	caller  Caller
}

func NewPositionManager(address common.Address, caller Caller) *PositionManager {
	return &PositionManager{Address: address, caller: caller}
}

// OwnedTokenIDs enumerates the LP NFTs held directly by owner.
func (m *PositionManager) OwnedTokenIDs(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	values, err := callMethod(ctx, m.caller, m.Address, nfpmABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	count, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}

	ids := make([]*big.Int, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		values, err := callMethod(ctx, m.caller, m.Address, nfpmABI, "tokenOfOwnerByIndex", owner, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, err := asBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("tokenOfOwnerByIndex: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Position reads one LP NFT's full state.
func (m *PositionManager) Position(ctx context.Context, tokenID *big.Int) (model.Position, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return model.Position{}, fmt.Errorf("parse manager abi: %w", err)
	}

	values, err := callMethod(ctx, m.caller, m.Address, nfpmABI, "positions", tokenID)
	if err != nil {
		return model.Position{}, err
	}
	if len(values) < 12 {
		return model.Position{}, fmt.Errorf("positions: short response")
	}

	token0, err := asAddress(values[2])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions token0: %w", err)
	}
	token1, err := asAddress(values[3])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions token1: %w", err)
	}
	tickSpacing, err := tickFromValue(values[4])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions tickSpacing: %w", err)
	}
	tickLower, err := tickFromValue(values[5])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions tickLower: %w", err)
	}
	tickUpper, err := tickFromValue(values[6])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions tickUpper: %w", err)
	}
	liquidity, err := asBigInt(values[7])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions liquidity: %w", err)
	}
	owed0, err := asBigInt(values[10])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions tokensOwed0: %w", err)
	}
	owed1, err := asBigInt(values[11])
	if err != nil {
		return model.Position{}, fmt.Errorf("positions tokensOwed1: %w", err)
	}

	return model.Position{
		TokenID:     new(big.Int).Set(tokenID),
		Manager:     m.Address,
		Token0:      token0,
		Token1:      token1,
		TickSpacing: tickSpacing,
		Range:       model.TickRange{Lower: tickLower, Upper: tickUpper},
		Liquidity:   liquidity,
		TokensOwed0: owed0,
		TokensOwed1: owed1,
	}, nil
}

func tickFromValue(value interface{}) (int, error) {
	raw, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	tick, err := int24FromBig(raw)
	if err != nil {
		return 0, err
	}
	return int(tick), nil
}

// MintParams describes one position mint.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	TickSpacing    *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
	SqrtPriceX96   *big.Int
}

// MintCalldata packs a mint call.
func (m *PositionManager) MintCalldata(params MintParams) ([]byte, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}
	data, err := nfpmABI.Pack("mint", params)
	if err != nil {
		return nil, fmt.Errorf("pack mint: %w", err)
	}
	return data, nil
}

// MintResult is the outcome of a mint simulation.
type MintResult struct {
	TokenID   *big.Int
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// SimulateMint runs the mint as an eth_call from sender to surface
// reverts before spending gas.
func (m *PositionManager) SimulateMint(ctx context.Context, sender common.Address, params MintParams) (MintResult, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return MintResult{}, fmt.Errorf("parse manager abi: %w", err)
	}
	data, err := m.MintCalldata(params)
	if err != nil {
		return MintResult{}, err
	}

	resp, err := m.caller.CallContract(ctx, ethereum.CallMsg{From: sender, To: &m.Address, Data: data})
	if err != nil {
		return MintResult{}, fmt.Errorf("mint simulation: %w", err)
	}
	values, err := nfpmABI.Unpack("mint", resp)
	if err != nil {
		return MintResult{}, fmt.Errorf("unpack mint: %w", err)
	}
	if len(values) < 4 {
		return MintResult{}, fmt.Errorf("mint: short response")
	}

	tokenID, err := asBigInt(values[0])
	if err != nil {
		return MintResult{}, fmt.Errorf("mint tokenId: %w", err)
	}
	liquidity, err := asBigInt(values[1])
	if err != nil {
		return MintResult{}, fmt.Errorf("mint liquidity: %w", err)
	}
	amount0, err := asBigInt(values[2])
	if err != nil {
		return MintResult{}, fmt.Errorf("mint amount0: %w", err)
	}
	amount1, err := asBigInt(values[3])
	if err != nil {
		return MintResult{}, fmt.Errorf("mint amount1: %w", err)
	}

	return MintResult{TokenID: tokenID, Liquidity: liquidity, Amount0: amount0, Amount1: amount1}, nil
}

// WithdrawCalldata packs a multicall that removes all liquidity, collects
// both legs plus accrued fees, and burns the NFT.
func (m *PositionManager) WithdrawCalldata(tokenID, liquidity *big.Int, recipient common.Address, deadline *big.Int) ([]byte, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	decrease, err := nfpmABI.Pack("decreaseLiquidity", struct {
		TokenId    *big.Int
		Liquidity  *big.Int
		Amount0Min *big.Int
		Amount1Min *big.Int
		Deadline   *big.Int
	}{
		TokenId:    tokenID,
		Liquidity:  liquidity,
		Amount0Min: new(big.Int),
		Amount1Min: new(big.Int),
		Deadline:   deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("pack decreaseLiquidity: %w", err)
	}

	collect, err := nfpmABI.Pack("collect", struct {
		TokenId    *big.Int
		Recipient  common.Address
		Amount0Max *big.Int
		Amount1Max *big.Int
	}{
		TokenId:    tokenID,
		Recipient:  recipient,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, fmt.Errorf("pack collect: %w", err)
	}

	burn, err := nfpmABI.Pack("burn", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack burn: %w", err)
	}

	data, err := nfpmABI.Pack("multicall", [][]byte{decrease, collect, burn})
	if err != nil {
		return nil, fmt.Errorf("pack multicall: %w", err)
	}
	return data, nil
}

// ApproveCalldata packs an NFT approval, used before gauge deposit.
func (m *PositionManager) ApproveCalldata(to common.Address, tokenID *big.Int) ([]byte, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}
	data, err := nfpmABI.Pack("approve", to, tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return data, nil
}

// ApprovedFor returns the approved operator for the NFT.
func (m *PositionManager) ApprovedFor(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse manager abi: %w", err)
	}
	values, err := callMethod(ctx, m.caller, m.Address, nfpmABI, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}
