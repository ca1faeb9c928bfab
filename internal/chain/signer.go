package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrNonceExpired reports that the node rejected our cached nonce.
var ErrNonceExpired = errors.New("nonce expired")

// ErrTxReverted reports a transaction mined with a failed status.
var ErrTxReverted = errors.New("transaction reverted")

// nonceErrFragments are node error substrings that mean the cached nonce
// is stale.
var nonceErrFragments = []string{
	"nonce too low",
	"nonce expired",
	"invalid nonce",
	"NONCE_EXPIRED",
}

// IsNonceExpired reports whether err indicates a stale account nonce.
func IsNonceExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonceExpired) {
		return true
	}
	msg := err.Error()
	for _, fragment := range nonceErrFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// TxRequest describes one transaction to sign and send. A zero GasLimit
// asks the signer to estimate and pad.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// TxBackend is the part of Client the signer needs.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Signer signs and submits transactions for a single key, tracking the
// account nonce locally so sequential transactions within one cycle do
// not race the node's pending view.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	fees    *FeePolicy
	backend TxBackend
	log     *zap.Logger

	mu     sync.Mutex
	nonce  uint64
	primed bool
}

// NewSigner builds a signer from a hex private key (with or without the
// 0x prefix).
func NewSigner(privateKeyHex string, chainID *big.Int, fees *FeePolicy, backend TxBackend, log *zap.Logger) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		fees:    fees,
		backend: backend,
		log:     log,
	}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// ResetNonce drops the cached nonce so the next send re-reads it from
// the node.
func (s *Signer) ResetNonce() {
	s.mu.Lock()
	s.primed = false
	s.mu.Unlock()
}

func (s *Signer) nextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		nonce, err := s.backend.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, fmt.Errorf("reading account nonce: %w", err)
		}
		s.nonce = nonce
		s.primed = true
	}
	return s.nonce, nil
}

func (s *Signer) bumpNonce(used uint64) {
	s.mu.Lock()
	if s.primed && s.nonce == used {
		s.nonce = used + 1
	}
	s.mu.Unlock()
}

// Send signs and broadcasts one transaction, returning the signed
// transaction without waiting for it to be mined.
func (s *Signer) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimate, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimating gas: %w", err)
		}
		gasLimit = estimate * 12 / 10
	}

	quote, err := s.fees.Quote(ctx, s.backend)
	if err != nil {
		return nil, err
	}

	nonce, err := s.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	var inner types.TxData
	if quote.Dynamic {
		inner = &types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: quote.GasTipCap,
			GasFeeCap: quote.GasFeeCap,
			Gas:       gasLimit,
			To:        &req.To,
			Value:     value,
			Data:      req.Data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: quote.GasPrice,
			Gas:      gasLimit,
			To:       &req.To,
			Value:    value,
			Data:     req.Data,
		}
	}

	tx, err := types.SignNewTx(s.key, types.LatestSignerForChainID(s.chainID), inner)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		if IsNonceExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrNonceExpired, err)
		}
		return nil, fmt.Errorf("sending transaction: %w", err)
	}

	s.bumpNonce(nonce)
	s.log.Debug("transaction sent",
		zap.String("hash", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))
	return tx, nil
}

// SendWithRetry sends the transaction and, on a stale-nonce rejection,
// re-reads the nonce from the node and retries exactly once.
func (s *Signer) SendWithRetry(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	tx, err := s.Send(ctx, req)
	if err == nil || !IsNonceExpired(err) {
		return tx, err
	}

	s.log.Warn("stale nonce, re-reading from node", zap.Error(err))
	s.ResetNonce()
	return s.Send(ctx, req)
}

// SendAndWait sends the transaction with the nonce retry and blocks
// until it is mined, failing if the receipt status is not success.
func (s *Signer) SendAndWait(ctx context.Context, req TxRequest) (*types.Receipt, error) {
	tx, err := s.SendWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	receipt, err := s.backend.WaitForReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}
