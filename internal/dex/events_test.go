package dex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	evManager   = common.HexToAddress("0x827922686190790b37229fd06084350E74485b72")
	evToken     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	evRecipient = common.HexToAddress("0x5000000000000000000000000000000000000001")
)

func TestMintedTokenIDFromIncreaseLiquidity(t *testing.T) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		{
			Address: evManager,
			Topics: []common.Hash{
				nfpmABI.Events["IncreaseLiquidity"].ID,
				common.BigToHash(big.NewInt(12345)),
			},
		},
	}}

	id, err := MintedTokenID(receipt, evManager)
	if err != nil {
		t.Fatalf("minted token id: %v", err)
	}
	if id.Int64() != 12345 {
		t.Fatalf("token id %s, want 12345", id)
	}
}

func TestMintedTokenIDFallsBackToTransfer(t *testing.T) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		{
			Address: evManager,
			Topics: []common.Hash{
				nfpmABI.Events["Transfer"].ID,
				{},
				common.BytesToHash(evRecipient.Bytes()),
				common.BigToHash(big.NewInt(77)),
			},
		},
	}}

	id, err := MintedTokenID(receipt, evManager)
	if err != nil {
		t.Fatalf("minted token id: %v", err)
	}
	if id.Int64() != 77 {
		t.Fatalf("token id %s, want 77", id)
	}
}

func TestMintedTokenIDIgnoresOtherContracts(t *testing.T) {
	nfpmABI, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	receipt := &types.Receipt{Logs: []*types.Log{
		{
			Address: evToken,
			Topics: []common.Hash{
				nfpmABI.Events["IncreaseLiquidity"].ID,
				common.BigToHash(big.NewInt(1)),
			},
		},
	}}

	if _, err := MintedTokenID(receipt, evManager); !errors.Is(err, ErrNoMintEvent) {
		t.Fatalf("expected ErrNoMintEvent, got %v", err)
	}
}

func TestMintedTokenIDEmptyReceipt(t *testing.T) {
	if _, err := MintedTokenID(&types.Receipt{}, evManager); !errors.Is(err, ErrNoMintEvent) {
		t.Fatalf("expected ErrNoMintEvent, got %v", err)
	}
}

func transferLog(token, from, to common.Address, amount int64) *types.Log {
	erc20, _ := ERC20ABI()
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			erc20.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.BigToHash(big.NewInt(amount)).Bytes(),
	}
}

func TestReceivedAmountSumsTransfers(t *testing.T) {
	other := common.HexToAddress("0x9000000000000000000000000000000000000009")
	receipt := &types.Receipt{Logs: []*types.Log{
		transferLog(evToken, other, evRecipient, 400),
		transferLog(evToken, other, evRecipient, 600),
		transferLog(evToken, evRecipient, other, 50),
		transferLog(other, other, evRecipient, 999),
	}}

	got := ReceivedAmount(receipt, evToken, evRecipient)
	if got.Int64() != 1000 {
		t.Fatalf("received %s, want 1000", got)
	}
}

func TestReceivedAmountNoTransfers(t *testing.T) {
	got := ReceivedAmount(&types.Receipt{}, evToken, evRecipient)
	if got.Sign() != 0 {
		t.Fatalf("received %s, want 0", got)
	}
}
