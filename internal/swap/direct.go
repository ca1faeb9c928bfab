package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/model"
)

// directDeadline bounds how long a submitted swap stays valid.
const directDeadline = 5 * time.Minute

// Direct swaps through the canonical pool router, quoting first via the
// quoter's static call.
type Direct struct {
	router      common.Address
	quoter      common.Address
	slippageBps int64

	caller    dex.Caller
	sender    TxSender
	approvals *ApprovalManager
	log       *zap.Logger
}

func NewDirect(router, quoter common.Address, slippageBps int64, caller dex.Caller, sender TxSender, approvals *ApprovalManager, log *zap.Logger) *Direct {
	if log == nil {
		log = zap.NewNop()
	}
	return &Direct{
		router:      router,
		quoter:      quoter,
		slippageBps: slippageBps,
		caller:      caller,
		sender:      sender,
		approvals:   approvals,
		log:         log,
	}
}

// Swap quotes and executes a single-pool exact-input swap. A zero amount
// is a no-op. A retryable revert triggers one re-quote.
func (d *Direct) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, pool model.Pool) (*model.SwapReceipt, error) {
	if amountIn == nil || amountIn.Sign() == 0 {
		return nil, nil
	}

	receipt, err := d.swapOnce(ctx, tokenIn, tokenOut, amountIn, pool)
	if err != nil && IsRouteReverted(err) {
		d.log.Warn("swap reverted, re-quoting", zap.Error(err))
		return d.swapOnce(ctx, tokenIn, tokenOut, amountIn, pool)
	}
	return receipt, err
}

func (d *Direct) swapOnce(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, pool model.Pool) (*model.SwapReceipt, error) {
	quoted, err := d.quote(ctx, tokenIn, tokenOut, amountIn, pool.TickSpacing)
	if err != nil {
		return nil, err
	}
	minOut := MinOut(quoted, d.slippageBps)

	if err := d.approvals.Ensure(ctx, tokenIn, d.router, amountIn); err != nil {
		return nil, err
	}

	routerABI, err := dex.SwapRouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	data, err := routerABI.Pack("exactInputSingle", struct {
		TokenIn           common.Address
		TokenOut          common.Address
		TickSpacing       *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		TickSpacing:       big.NewInt(int64(pool.TickSpacing)),
		Recipient:         d.sender.Address(),
		Deadline:          big.NewInt(time.Now().Add(directDeadline).Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("pack exactInputSingle: %w", err)
	}

	txReceipt, err := d.sender.SendAndWait(ctx, chain.TxRequest{To: d.router, Data: data})
	if err != nil {
		if IsRouteReverted(err) {
			return nil, fmt.Errorf("%w: %v", ErrRouteReverted, err)
		}
		return nil, err
	}

	amountOut := dex.ReceivedAmount(txReceipt, tokenOut, d.sender.Address())
	if amountOut.Sign() == 0 {
		amountOut = quoted
	}

	d.log.Info("swap executed",
		zap.String("token_in", tokenIn.Hex()),
		zap.String("token_out", tokenOut.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
		zap.String("tx", txReceipt.TxHash.Hex()))

	return &model.SwapReceipt{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amountOut,
		Router:    d.router,
		TxHash:    txReceipt.TxHash,
	}, nil
}

func (d *Direct) quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, tickSpacing int) (*big.Int, error) {
	quoterABI, err := dex.QuoterABI()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	data, err := quoterABI.Pack("quoteExactInputSingle", struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		TickSpacing       *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		TickSpacing:       big.NewInt(int64(tickSpacing)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("pack quoteExactInputSingle: %w", err)
	}

	resp, err := d.caller.CallContract(ctx, ethereum.CallMsg{To: &d.quoter, Data: data})
	if err != nil {
		return nil, fmt.Errorf("quoting swap: %w", err)
	}
	values, err := quoterABI.Unpack("quoteExactInputSingle", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack quote: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("quote: empty response")
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quote: unexpected type %T", values[0])
	}
	return amountOut, nil
}
