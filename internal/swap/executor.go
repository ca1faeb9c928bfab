package swap

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/model"
)

// ErrUntrustedRouter reports an aggregator answer naming a router outside
// the allowlist. Never retried.
var ErrUntrustedRouter = errors.New("untrusted router")

// ErrRouteReverted reports an on-chain swap failure that a fresh quote
// may fix. Retried once.
var ErrRouteReverted = errors.New("route reverted")

// revertFragments are node/router error substrings that classify a swap
// failure as route staleness rather than a configuration problem.
var revertFragments = []string{
	"CallFailed",
	"InsufficientReturn",
	"TransferFromFailed",
}

// IsRouteReverted reports whether err is a retryable route failure.
func IsRouteReverted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRouteReverted) {
		return true
	}
	msg := err.Error()
	for _, fragment := range revertFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Executor performs one token swap. Implementations return a nil receipt
// without error when amountIn is zero.
type Executor interface {
	Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, pool model.Pool) (*model.SwapReceipt, error)
}

// TxSender is the signing surface executors submit through.
type TxSender interface {
	Address() common.Address
	SendAndWait(ctx context.Context, req chain.TxRequest) (*types.Receipt, error)
}

// MinOut applies a slippage tolerance in basis points to an expected
// output, rounding down.
func MinOut(amount *big.Int, slippageBps int64) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps > 10_000 {
		slippageBps = 10_000
	}
	out := new(big.Int).Mul(amount, big.NewInt(10_000-slippageBps))
	return out.Div(out, big.NewInt(10_000))
}
