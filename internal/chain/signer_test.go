package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBackend struct {
	pendingNonce    uint64
	pendingCalls    int
	sendErr         func(nonce uint64) error
	sentNonces      []uint64
	receiptFailed   bool
	receiptErr      error
	estimateGasUsed uint64
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.pendingCalls++
	return f.pendingNonce, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateGasUsed == 0 {
		return 100_000, nil
	}
	return f.estimateGasUsed, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		if err := f.sendErr(tx.Nonce()); err != nil {
			return err
		}
	}
	f.sentNonces = append(f.sentNonces, tx.Nonce())
	return nil
}

func (f *fakeBackend) WaitForReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	status := types.ReceiptStatusSuccessful
	if f.receiptFailed {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash}, nil
}

func (f *fakeBackend) BaseFee(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func newTestSigner(t *testing.T, backend *fakeBackend) *Signer {
	t.Helper()
	fees := NewFeePolicy(GasEIP1559, big.NewInt(100_000_000), big.NewInt(1_000), nil)
	signer, err := NewSigner(testKey, big.NewInt(8453), fees, backend, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func TestSendSequentialNonces(t *testing.T) {
	backend := &fakeBackend{pendingNonce: 7}
	signer := newTestSigner(t, backend)

	for i := 0; i < 3; i++ {
		if _, err := signer.Send(context.Background(), TxRequest{To: common.HexToAddress("0x1")}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	want := []uint64{7, 8, 9}
	if len(backend.sentNonces) != len(want) {
		t.Fatalf("sent %d transactions, want %d", len(backend.sentNonces), len(want))
	}
	for i, nonce := range want {
		if backend.sentNonces[i] != nonce {
			t.Fatalf("nonce[%d] = %d, want %d", i, backend.sentNonces[i], nonce)
		}
	}
	if backend.pendingCalls != 1 {
		t.Fatalf("pending nonce read %d times, want 1", backend.pendingCalls)
	}
}

func TestSendWithRetryRecoversStaleNonce(t *testing.T) {
	backend := &fakeBackend{pendingNonce: 3}
	rejected := false
	backend.sendErr = func(nonce uint64) error {
		if !rejected {
			rejected = true
			backend.pendingNonce = 12
			return errors.New("rpc error: NONCE_EXPIRED")
		}
		return nil
	}
	signer := newTestSigner(t, backend)

	if _, err := signer.SendWithRetry(context.Background(), TxRequest{To: common.HexToAddress("0x1")}); err != nil {
		t.Fatalf("send with retry: %v", err)
	}

	if len(backend.sentNonces) != 1 || backend.sentNonces[0] != 12 {
		t.Fatalf("retry nonces: %v, want [12]", backend.sentNonces)
	}
	if backend.pendingCalls != 2 {
		t.Fatalf("pending nonce read %d times, want 2", backend.pendingCalls)
	}
}

func TestSendWithRetryGivesUpAfterSecondFailure(t *testing.T) {
	backend := &fakeBackend{pendingNonce: 3}
	backend.sendErr = func(uint64) error {
		return errors.New("nonce too low")
	}
	signer := newTestSigner(t, backend)

	_, err := signer.SendWithRetry(context.Background(), TxRequest{To: common.HexToAddress("0x1")})
	if !IsNonceExpired(err) {
		t.Fatalf("expected nonce error, got %v", err)
	}
	if backend.pendingCalls != 2 {
		t.Fatalf("pending nonce read %d times, want 2", backend.pendingCalls)
	}
}

func TestSendAndWaitRevertedStatus(t *testing.T) {
	backend := &fakeBackend{receiptFailed: true}
	signer := newTestSigner(t, backend)

	_, err := signer.SendAndWait(context.Background(), TxRequest{To: common.HexToAddress("0x1")})
	if !errors.Is(err, ErrTxReverted) {
		t.Fatalf("expected ErrTxReverted, got %v", err)
	}
}

func TestIsNonceExpired(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("nonce too low"), true},
		{errors.New("rpc: NONCE_EXPIRED"), true},
		{errors.New("invalid nonce for sender"), true},
		{errors.New("insufficient funds"), false},
		{ErrNonceExpired, true},
	}
	for _, tc := range cases {
		if got := IsNonceExpired(tc.err); got != tc.want {
			t.Fatalf("IsNonceExpired(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
