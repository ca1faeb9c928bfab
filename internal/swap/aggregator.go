package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/model"
)

// AggregatorConfig carries the HTTP and trust settings for the
// aggregator executor.
type AggregatorConfig struct {
	BaseURL         string
	Chain           string
	ClientID        string
	Source          string
	IncludedSources string
	AllowedRouters  []common.Address
	SlippageBps     int64
}

// Aggregator swaps through an external routing API. The API proposes a
// route and router address; the executor verifies the router against the
// allowlist before any value-bearing call.
type Aggregator struct {
	cfg     AggregatorConfig
	allowed map[common.Address]bool

	httpClient *http.Client
	caller     dex.Caller
	sender     TxSender
	approvals  *ApprovalManager
	log        *zap.Logger
}

func NewAggregator(cfg AggregatorConfig, caller dex.Caller, sender TxSender, approvals *ApprovalManager, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[common.Address]bool, len(cfg.AllowedRouters))
	for _, router := range cfg.AllowedRouters {
		allowed[router] = true
	}
	return &Aggregator{
		cfg:        cfg,
		allowed:    allowed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		caller:     caller,
		sender:     sender,
		approvals:  approvals,
		log:        log,
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type routeData struct {
	RouteSummary  json.RawMessage `json:"routeSummary"`
	RouterAddress string          `json:"routerAddress"`
}

type buildData struct {
	Data            string `json:"data"`
	EncodedSwapData string `json:"encodedSwapData"`
	Value           string `json:"value"`
	RouterAddress   string `json:"routerAddress"`
	AmountOut       string `json:"amountOut"`
}

// Swap routes amountIn of tokenIn into tokenOut through the aggregator.
// A zero amount is a no-op. On a retryable on-chain revert the whole
// quote/build/submit sequence runs once more with a fresh route.
func (a *Aggregator) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, pool model.Pool) (*model.SwapReceipt, error) {
	if amountIn == nil || amountIn.Sign() == 0 {
		return nil, nil
	}

	receipt, err := a.swapOnce(ctx, tokenIn, tokenOut, amountIn)
	if err != nil && IsRouteReverted(err) {
		a.log.Warn("swap route reverted, refreshing quote", zap.Error(err))
		return a.swapOnce(ctx, tokenIn, tokenOut, amountIn)
	}
	return receipt, err
}

func (a *Aggregator) swapOnce(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*model.SwapReceipt, error) {
	route, err := a.fetchRoute(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	router := common.HexToAddress(route.RouterAddress)
	if !a.allowed[router] {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedRouter, route.RouterAddress)
	}

	build, err := a.buildRoute(ctx, route.RouteSummary)
	if err != nil {
		return nil, err
	}
	buildRouter := common.HexToAddress(build.RouterAddress)
	if build.RouterAddress != "" && buildRouter != router {
		return nil, fmt.Errorf("%w: route %s vs build %s", ErrUntrustedRouter, router.Hex(), buildRouter.Hex())
	}

	calldataHex := build.Data
	if calldataHex == "" {
		calldataHex = build.EncodedSwapData
	}
	if calldataHex == "" {
		return nil, fmt.Errorf("aggregator build returned no calldata")
	}
	calldata, err := hexutil.Decode(calldataHex)
	if err != nil {
		return nil, fmt.Errorf("decoding swap calldata: %w", err)
	}

	value := new(big.Int)
	if build.Value != "" {
		if _, ok := value.SetString(build.Value, 10); !ok {
			return nil, fmt.Errorf("decoding swap value %q", build.Value)
		}
	}

	if err := a.approvals.EnsurePermit2(ctx, tokenIn, router, amountIn); err != nil {
		return nil, err
	}

	txReceipt, err := a.sender.SendAndWait(ctx, chain.TxRequest{To: router, Data: calldata, Value: value})
	if err != nil {
		if IsRouteReverted(err) {
			return nil, fmt.Errorf("%w: %v", ErrRouteReverted, err)
		}
		return nil, err
	}

	amountOut := dex.ReceivedAmount(txReceipt, tokenOut, a.sender.Address())
	if amountOut.Sign() == 0 && build.AmountOut != "" {
		if quoted, ok := new(big.Int).SetString(build.AmountOut, 10); ok {
			amountOut = quoted
		}
	}

	a.log.Info("swap executed",
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
		Router:    router,
		TxHash:    txReceipt.TxHash,
	}, nil
}

func (a *Aggregator) fetchRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (routeData, error) {
	query := url.Values{}
	query.Set("tokenIn", tokenIn.Hex())
	query.Set("tokenOut", tokenOut.Hex())
	query.Set("amountIn", amountIn.String())
	if a.cfg.IncludedSources != "" {
		query.Set("includedSources", a.cfg.IncludedSources)
	}

	endpoint := fmt.Sprintf("%s/%s/api/v1/routes?%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Chain, query.Encode())

	var route routeData
	if err := a.call(ctx, http.MethodGet, endpoint, nil, &route); err != nil {
		return routeData{}, fmt.Errorf("fetching route: %w", err)
	}
	if route.RouterAddress == "" {
		return routeData{}, fmt.Errorf("route response missing router address")
	}
	return route, nil
}

func (a *Aggregator) buildRoute(ctx context.Context, routeSummary json.RawMessage) (buildData, error) {
	body := map[string]interface{}{
		"routeSummary":      routeSummary,
		"sender":            a.sender.Address().Hex(),
		"recipient":         a.sender.Address().Hex(),
		"slippageTolerance": a.cfg.SlippageBps,
	}
	if a.cfg.Source != "" {
		body["source"] = a.cfg.Source
	}

	endpoint := fmt.Sprintf("%s/%s/api/v1/route/build",
		strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Chain)

	var build buildData
	if err := a.call(ctx, http.MethodPost, endpoint, body, &build); err != nil {
		return buildData{}, fmt.Errorf("building route: %w", err)
	}
	return build, nil
}

func (a *Aggregator) call(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	var raw []byte
	var status int
	err := chain.WithRetry(ctx, 2, 500*time.Millisecond, func(ctx context.Context) error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if a.cfg.ClientID != "" {
			req.Header.Set("x-client-id", a.cfg.ClientID)
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "<") {
		return fmt.Errorf("aggregator returned HTML (status %d), likely a bot challenge", status)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", status, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("aggregator error code %d: %s", envelope.Code, envelope.Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
