package swap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/model"
)

// allowAllCaller answers every read with max uint256, so allowance checks
// always pass and no approval transactions are needed.
type allowAllCaller struct{}

func (allowAllCaller) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return bytes.Repeat([]byte{0xff}, 32), nil
}

type fakeSender struct {
	address common.Address
	sent    []chain.TxRequest
	sendErr func(call int) error
}

func (f *fakeSender) Address() common.Address {
	return f.address
}

func (f *fakeSender) SendAndWait(_ context.Context, req chain.TxRequest) (*types.Receipt, error) {
	call := len(f.sent)
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		if err := f.sendErr(call); err != nil {
			return nil, err
		}
	}
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.HexToHash(fmt.Sprintf("0x%064x", call+1)),
	}, nil
}

const (
	testRouter  = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
	otherRouter = "0x1111111111111111111111111111111111111111"
)

func newAggServer(t *testing.T, routerAddr string, routeCalls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base/api/v1/routes":
			if routeCalls != nil {
				*routeCalls++
			}
			fmt.Fprintf(w, `{"code":0,"data":{"routeSummary":{"amountOut":"999"},"routerAddress":"%s"}}`, routerAddr)
		case "/base/api/v1/route/build":
			fmt.Fprintf(w, `{"code":0,"data":{"data":"0x1234","amountOut":"999","routerAddress":"%s"}}`, routerAddr)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func newTestAggregator(baseURL string, sender *fakeSender) *Aggregator {
	caller := allowAllCaller{}
	approvals := NewApprovalManager(caller, sender, common.Address{}, nil)
	return NewAggregator(AggregatorConfig{
		BaseURL:        baseURL,
		Chain:          "base",
		AllowedRouters: []common.Address{common.HexToAddress(testRouter)},
		SlippageBps:    300,
	}, caller, sender, approvals, nil)
}

func TestAggregatorSwap(t *testing.T) {
	server := newAggServer(t, testRouter, nil)
	defer server.Close()

	sender := &fakeSender{address: common.HexToAddress("0xabc0000000000000000000000000000000000abc")}
	agg := newTestAggregator(server.URL, sender)

	receipt, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if receipt == nil {
		t.Fatalf("expected receipt")
	}
	if receipt.Router != common.HexToAddress(testRouter) {
		t.Fatalf("router: %s", receipt.Router.Hex())
	}
	if receipt.AmountOut.String() != "999" {
		t.Fatalf("amount out: %s", receipt.AmountOut)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sender.sent))
	}
	if sender.sent[0].To != common.HexToAddress(testRouter) {
		t.Fatalf("swap sent to %s", sender.sent[0].To.Hex())
	}
}

func TestAggregatorZeroAmount(t *testing.T) {
	sender := &fakeSender{}
	agg := newTestAggregator("http://unreachable.invalid", sender)

	receipt, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), new(big.Int), model.Pool{})
	if err != nil || receipt != nil {
		t.Fatalf("zero amount should no-op: %v, %+v", err, receipt)
	}
}

func TestAggregatorUntrustedRouter(t *testing.T) {
	server := newAggServer(t, otherRouter, nil)
	defer server.Close()

	sender := &fakeSender{}
	agg := newTestAggregator(server.URL, sender)

	_, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if !errors.Is(err, ErrUntrustedRouter) {
		t.Fatalf("expected ErrUntrustedRouter, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no transaction should be sent to an untrusted router")
	}
}

func TestAggregatorRouterMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base/api/v1/routes":
			fmt.Fprintf(w, `{"code":0,"data":{"routeSummary":{},"routerAddress":"%s"}}`, testRouter)
		case "/base/api/v1/route/build":
			fmt.Fprintf(w, `{"code":0,"data":{"data":"0x1234","routerAddress":"%s"}}`, otherRouter)
		}
	}))
	defer server.Close()

	sender := &fakeSender{}
	agg := newTestAggregator(server.URL, sender)

	_, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if !errors.Is(err, ErrUntrustedRouter) {
		t.Fatalf("expected ErrUntrustedRouter on build mismatch, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no transaction should be sent on router mismatch")
	}
}

func TestAggregatorHTMLChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Checking your browser</body></html>")
	}))
	defer server.Close()

	sender := &fakeSender{}
	agg := newTestAggregator(server.URL, sender)

	_, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if err == nil {
		t.Fatalf("expected error on HTML response")
	}
}

func TestAggregatorErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"code":4008,"message":"rate limited"}`)
	}))
	defer server.Close()

	sender := &fakeSender{}
	agg := newTestAggregator(server.URL, sender)

	_, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if err == nil {
		t.Fatalf("expected error on non-zero api code")
	}
}

func TestAggregatorRetriesRevertedRoute(t *testing.T) {
	routeCalls := 0
	server := newAggServer(t, testRouter, &routeCalls)
	defer server.Close()

	sender := &fakeSender{address: common.HexToAddress("0xabc")}
	sender.sendErr = func(call int) error {
		if call == 0 {
			return errors.New("execution reverted: InsufficientReturn")
		}
		return nil
	}
	agg := newTestAggregator(server.URL, sender)

	receipt, err := agg.Swap(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1000), model.Pool{})
	if err != nil {
		t.Fatalf("swap after retry: %v", err)
	}
	if receipt == nil {
		t.Fatalf("expected receipt")
	}
	if routeCalls != 2 {
		t.Fatalf("route fetched %d times, want a fresh quote on retry", routeCalls)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d transactions, want 2", len(sender.sent))
	}
}
