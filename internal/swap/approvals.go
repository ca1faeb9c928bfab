package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/dex"
)

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
)

// permit2Expiration is how far ahead Permit2 grants are stamped.
const permit2Expiration = 30 * 24 * time.Hour

// ApprovalManager grants and caches token allowances. Grants are
// max-value, so one approval per token/spender pair per process
// lifetime.
type ApprovalManager struct {
	caller  dex.Caller
	sender  TxSender
	permit2 common.Address
	log     *zap.Logger

	mu      sync.Mutex
	granted map[string]bool
}

func NewApprovalManager(caller dex.Caller, sender TxSender, permit2 common.Address, log *zap.Logger) *ApprovalManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ApprovalManager{
		caller:  caller,
		sender:  sender,
		permit2: permit2,
		log:     log,
		granted: make(map[string]bool),
	}
}

func grantKey(token, spender common.Address) string {
	return token.Hex() + "/" + spender.Hex()
}

// Ensure makes sure spender can pull at least amount of token from the
// signer, granting a max approval when the current allowance is short.
func (a *ApprovalManager) Ensure(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	key := grantKey(token, spender)
	a.mu.Lock()
	done := a.granted[key]
	a.mu.Unlock()
	if done {
		return nil
	}

	erc20, err := dex.ERC20ABI()
	if err != nil {
		return fmt.Errorf("parse erc20 abi: %w", err)
	}

	allowance, err := dex.ReadAllowance(ctx, a.caller, token, a.sender.Address(), spender)
	if err != nil {
		return fmt.Errorf("reading allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		a.markGranted(key)
		return nil
	}

	data, err := erc20.Pack("approve", spender, maxUint256)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, err := a.sender.SendAndWait(ctx, chain.TxRequest{To: token, Data: data}); err != nil {
		return fmt.Errorf("approving %s for %s: %w", token.Hex(), spender.Hex(), err)
	}

	a.log.Info("token approval granted",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()))
	a.markGranted(key)
	return nil
}

// EnsurePermit2 routes the approval through Permit2: token grants Permit2,
// Permit2 grants the spender with an expiration.
func (a *ApprovalManager) EnsurePermit2(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	if a.permit2 == (common.Address{}) {
		return a.Ensure(ctx, token, spender, amount)
	}

	if err := a.Ensure(ctx, token, a.permit2, amount); err != nil {
		return err
	}

	key := grantKey(token, spender) + "/permit2"
	a.mu.Lock()
	done := a.granted[key]
	a.mu.Unlock()
	if done {
		return nil
	}

	permit2, err := dex.Permit2ABI()
	if err != nil {
		return fmt.Errorf("parse permit2 abi: %w", err)
	}

	granted, expiration, err := dex.ReadPermit2Allowance(ctx, a.caller, a.permit2, a.sender.Address(), token, spender)
	if err != nil {
		return fmt.Errorf("reading permit2 allowance: %w", err)
	}
	now := big.NewInt(time.Now().Unix())
	if granted.Cmp(amount) >= 0 && expiration.Cmp(now) > 0 {
		a.markGranted(key)
		return nil
	}

	expiry := big.NewInt(time.Now().Add(permit2Expiration).Unix())
	data, err := permit2.Pack("approve", token, spender, maxUint160, expiry)
	if err != nil {
		return fmt.Errorf("pack permit2 approve: %w", err)
	}
	if _, err := a.sender.SendAndWait(ctx, chain.TxRequest{To: a.permit2, Data: data}); err != nil {
		return fmt.Errorf("permit2 approval %s for %s: %w", token.Hex(), spender.Hex(), err)
	}

	a.log.Info("permit2 approval granted",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()))
	a.markGranted(key)
	return nil
}

func (a *ApprovalManager) markGranted(key string) {
	a.mu.Lock()
	a.granted[key] = true
	a.mu.Unlock()
}
