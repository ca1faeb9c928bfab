package chain

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// GasStrategy selects how transaction fees are priced.
type GasStrategy string

const (
	// GasEIP1559 prices transactions with a dynamic fee (tip + base fee cap).
	GasEIP1559 GasStrategy = "eip1559"
	// GasLegacy prices transactions with a single gas price.
	GasLegacy GasStrategy = "legacy"
)

// FeePolicy turns configuration into per-transaction fee quotes.
type FeePolicy struct {
	Strategy    GasStrategy
	MaxGasPrice *big.Int // absolute ceiling in wei, nil means uncapped
	PriorityFee *big.Int // tip in wei, eip1559 only

	log *zap.Logger
}

// NewFeePolicy builds a fee policy. A nil logger falls back to a no-op one.
func NewFeePolicy(strategy GasStrategy, maxGasPrice, priorityFee *big.Int, log *zap.Logger) *FeePolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeePolicy{
		Strategy:    strategy,
		MaxGasPrice: maxGasPrice,
		PriorityFee: priorityFee,
		log:         log,
	}
}

// FeeQuote is a priced fee for one transaction.
type FeeQuote struct {
	Dynamic   bool
	GasTipCap *big.Int // dynamic only
	GasFeeCap *big.Int // dynamic only
	GasPrice  *big.Int // legacy only
}

// baseFeeReader is the part of Client the fee policy needs.
type baseFeeReader interface {
	BaseFee(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Quote prices one transaction. Under eip1559 the fee cap is
// baseFee + priorityFee, clamped to the configured ceiling. If the
// priority fee alone exceeds the ceiling it is clamped down and a
// warning is logged. Under legacy the node's suggested price is used,
// clamped to the same ceiling.
func (p *FeePolicy) Quote(ctx context.Context, reader baseFeeReader) (FeeQuote, error) {
	if p.Strategy == GasLegacy {
		return p.quoteLegacy(ctx, reader)
	}

	baseFee, err := reader.BaseFee(ctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("reading base fee: %w", err)
	}
	if baseFee == nil {
		// Pre-London chain; fall back to legacy pricing.
		return p.quoteLegacy(ctx, reader)
	}

	tip := new(big.Int)
	if p.PriorityFee != nil {
		tip.Set(p.PriorityFee)
	}
	if p.MaxGasPrice != nil && tip.Cmp(p.MaxGasPrice) > 0 {
		p.log.Warn("priority fee exceeds gas price ceiling, clamping",
			zap.String("priority_fee_wei", tip.String()),
			zap.String("max_gas_price_wei", p.MaxGasPrice.String()))
		tip.Set(p.MaxGasPrice)
	}

	feeCap := new(big.Int).Add(baseFee, tip)
	if p.MaxGasPrice != nil && feeCap.Cmp(p.MaxGasPrice) > 0 {
		feeCap.Set(p.MaxGasPrice)
	}
	if tip.Cmp(feeCap) > 0 {
		tip.Set(feeCap)
	}

	return FeeQuote{Dynamic: true, GasTipCap: tip, GasFeeCap: feeCap}, nil
}

func (p *FeePolicy) quoteLegacy(ctx context.Context, reader baseFeeReader) (FeeQuote, error) {
	price, err := reader.GasPrice(ctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("reading gas price: %w", err)
	}
	if p.MaxGasPrice != nil && price.Cmp(p.MaxGasPrice) > 0 {
		price = new(big.Int).Set(p.MaxGasPrice)
	}
	return FeeQuote{GasPrice: price}, nil
}
