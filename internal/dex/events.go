package dex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoMintEvent reports a mint receipt without a recognizable tokenId.
var ErrNoMintEvent = errors.New("no mint event in receipt")

// MintedTokenID extracts the new position's tokenId from a mint receipt,
// preferring IncreaseLiquidity and falling back to the NFT Transfer from
// the zero address.
func MintedTokenID(receipt *types.Receipt, manager common.Address) (*big.Int, error) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	increaseID := nfpmABI.Events["IncreaseLiquidity"].ID
	transferID := nfpmABI.Events["Transfer"].ID

	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) < 2 {
			continue
		}
		if log.Topics[0] == increaseID {
			return new(big.Int).SetBytes(log.Topics[1].Bytes()), nil
		}
	}

	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) < 4 {
			continue
		}
		if log.Topics[0] == transferID && log.Topics[1] == (common.Hash{}) {
			return new(big.Int).SetBytes(log.Topics[3].Bytes()), nil
		}
	}

	return nil, ErrNoMintEvent
}

// ReceivedAmount sums ERC20 Transfer values of token delivered to
// recipient within the receipt. Zero when no such transfer is present.
func ReceivedAmount(receipt *types.Receipt, token, recipient common.Address) *big.Int {
	erc20, err := ERC20ABI()
	if err != nil {
		return new(big.Int)
	}
	transferID := erc20.Events["Transfer"].ID

	total := new(big.Int)
	for _, log := range receipt.Logs {
		if log.Address != token || len(log.Topics) != 3 || log.Topics[0] != transferID {
			continue
		}
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(log.Data))
	}
	return total
}
