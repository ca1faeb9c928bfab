package rebalance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/clmath"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/model"
	"rangekeeper/internal/swap"
)

// mintDeadline bounds how long submitted position mutations stay valid.
const mintDeadline = 10 * time.Minute

// SettleDelays are pauses after confirmed transactions that absorb RPC
// state propagation. Zero values skip the pause.
type SettleDelays struct {
	AfterUnstake  time.Duration
	AfterWithdraw time.Duration
	AfterSwap     time.Duration
}

// Descriptor is the working memory of one migration. At most one is
// alive at a time.
type Descriptor struct {
	Source model.Position
	Target model.TickRange
	Pool   model.Pool
	Gauge  common.Address

	Stage       Stage
	Balance0    *big.Int
	Balance1    *big.Int
	CurrentTick int
	Ratio       model.RatioResult
	NewTokenID  *big.Int
	TxHashes    []string
}

// NewDescriptor starts a migration of position into target.
func NewDescriptor(position model.Position, target model.TickRange, pool model.Pool, gauge common.Address) *Descriptor {
	return &Descriptor{
		Source: position,
		Target: target,
		Pool:   pool,
		Gauge:  gauge,
		Stage:  StageStarting,
	}
}

// BootstrapDescriptor enters the machine with no source position, using
// wallet balances read by the caller. It skips straight to ratio
// computation.
func BootstrapDescriptor(target model.TickRange, pool model.Pool, gauge common.Address, bal0, bal1 *big.Int) *Descriptor {
	return &Descriptor{
		Target:   target,
		Pool:     pool,
		Gauge:    gauge,
		Stage:    StageComputingRatio,
		Balance0: bal0,
		Balance1: bal1,
	}
}

// Machine drives a descriptor through its stages.
type Machine struct {
	caller    dex.Caller
	sender    swap.TxSender
	manager   *dex.PositionManager
	swapper   swap.Executor
	approvals *swap.ApprovalManager
	tokens    *dex.TokenMetaCache

	slippageBps  int64
	minSwapValue float64
	delays       SettleDelays
	log          *zap.Logger
}

func NewMachine(
	caller dex.Caller,
	sender swap.TxSender,
	manager *dex.PositionManager,
	swapper swap.Executor,
	approvals *swap.ApprovalManager,
	tokens *dex.TokenMetaCache,
	slippageBps int64,
	minSwapValue float64,
	delays SettleDelays,
	log *zap.Logger,
) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	if tokens == nil {
		tokens = dex.NewTokenMetaCache()
	}
	return &Machine{
		caller:       caller,
		sender:       sender,
		manager:      manager,
		swapper:      swapper,
		approvals:    approvals,
		tokens:       tokens,
		slippageBps:  slippageBps,
		minSwapValue: minSwapValue,
		delays:       delays,
		log:          log,
	}
}

// Run drives the descriptor until Done or a stage failure. Every error
// return is a *StageError naming where the migration died.
func (m *Machine) Run(ctx context.Context, desc *Descriptor) error {
	for desc.Stage != StageDone {
		if err := ctx.Err(); err != nil {
			return failedAt(desc.Stage, err, desc.TxHashes)
		}

		switch desc.Stage {
		case StageStarting:
			if desc.Source.TokenID == nil {
				desc.Stage = StageReadingBalances
			} else if desc.Source.Staked && desc.Gauge != (common.Address{}) {
				desc.Stage = StageUnstaking
			} else {
				desc.Stage = StageWithdrawing
			}

		case StageUnstaking:
			if err := m.unstake(ctx, desc); err != nil {
				// Unstake may have landed before a transient failure.
				// The withdraw receipt is the real check.
				m.log.Warn("unstake failed, continuing to withdraw", zap.Error(err))
			}
			desc.Stage = StageWithdrawing

		case StageWithdrawing:
			if err := m.withdraw(ctx, desc); err != nil {
				return failedAt(StageWithdrawing, err, desc.TxHashes)
			}
			desc.Stage = StageReadingBalances

		case StageReadingBalances:
			if err := m.readBalances(ctx, desc); err != nil {
				return failedAt(StageReadingBalances, err, desc.TxHashes)
			}
			desc.Stage = StageComputingRatio

		case StageComputingRatio:
			if err := m.computeRatio(ctx, desc); err != nil {
				return failedAt(StageComputingRatio, err, desc.TxHashes)
			}
			desc.Stage = StageSwapping

		case StageSwapping:
			if err := m.swapToRatio(ctx, desc); err != nil {
				return failedAt(StageSwapping, err, desc.TxHashes)
			}
			desc.Stage = StageMinting

		case StageMinting:
			if err := m.mint(ctx, desc); err != nil {
				return failedAt(StageMinting, err, desc.TxHashes)
			}
			if desc.Gauge != (common.Address{}) {
				desc.Stage = StageStaking
			} else {
				desc.Stage = StageDone
			}

		case StageStaking:
			if err := m.stake(ctx, desc.NewTokenID, desc.Gauge, &desc.TxHashes); err != nil {
				// The new position exists and holds value even unstaked.
				m.log.Warn("stake failed, position left unstaked",
					zap.String("token_id", desc.NewTokenID.String()),
					zap.Error(err))
			}
			desc.Stage = StageDone

		default:
			return failedAt(desc.Stage, fmt.Errorf("unknown stage"), desc.TxHashes)
		}
	}

	m.log.Info("rebalance complete",
		zap.Int("tick_lower", desc.Target.Lower),
		zap.Int("tick_upper", desc.Target.Upper),
		zap.Strings("txs", desc.TxHashes))
	return nil
}

// StakePosition stakes one existing NFT into its gauge, used by the
// monitor's auto-stake action.
func (m *Machine) StakePosition(ctx context.Context, tokenID *big.Int, gauge common.Address) error {
	var hashes []string
	return m.stake(ctx, tokenID, gauge, &hashes)
}

func (m *Machine) unstake(ctx context.Context, desc *Descriptor) error {
	gauge := dex.NewGauge(desc.Gauge, m.caller)
	data, err := gauge.WithdrawCalldata(desc.Source.TokenID)
	if err != nil {
		return err
	}
	receipt, err := m.sender.SendAndWait(ctx, chain.TxRequest{To: desc.Gauge, Data: data})
	if receipt != nil {
		desc.TxHashes = append(desc.TxHashes, receipt.TxHash.Hex())
	}
	if err != nil {
		return err
	}
	m.settle(ctx, m.delays.AfterUnstake)
	return nil
}

func (m *Machine) withdraw(ctx context.Context, desc *Descriptor) error {
	deadline := big.NewInt(time.Now().Add(mintDeadline).Unix())
	data, err := m.manager.WithdrawCalldata(desc.Source.TokenID, desc.Source.Liquidity, m.sender.Address(), deadline)
	if err != nil {
		return err
	}
	receipt, err := m.sender.SendAndWait(ctx, chain.TxRequest{To: m.manager.Address, Data: data})
	if receipt != nil {
		desc.TxHashes = append(desc.TxHashes, receipt.TxHash.Hex())
	}
	if err != nil {
		return err
	}
	m.settle(ctx, m.delays.AfterWithdraw)
	return nil
}

func (m *Machine) readBalances(ctx context.Context, desc *Descriptor) error {
	bal0, err := dex.ReadBalance(ctx, m.caller, desc.Pool.Token0, m.sender.Address())
	if err != nil {
		return fmt.Errorf("reading token0 balance: %w", err)
	}
	bal1, err := dex.ReadBalance(ctx, m.caller, desc.Pool.Token1, m.sender.Address())
	if err != nil {
		return fmt.Errorf("reading token1 balance: %w", err)
	}
	desc.Balance0 = bal0
	desc.Balance1 = bal1
	return nil
}

func (m *Machine) computeRatio(ctx context.Context, desc *Descriptor) error {
	slot0, err := dex.ReadSlot0(ctx, m.caller, desc.Pool.Address)
	if err != nil {
		return fmt.Errorf("reading slot0: %w", err)
	}
	dec0, dec1, err := m.decimals(ctx, desc.Pool)
	if err != nil {
		return err
	}

	desc.CurrentTick = slot0.Tick
	desc.Ratio = clmath.RatioForRange(slot0.Tick, desc.Target.Lower, desc.Target.Upper, dec0, dec1)

	m.log.Info("target ratio computed",
		zap.Int("current_tick", slot0.Tick),
		zap.Float64("token0_ratio", desc.Ratio.Token0Ratio),
		zap.Float64("token1_ratio", desc.Ratio.Token1Ratio))
	return nil
}

func (m *Machine) swapToRatio(ctx context.Context, desc *Descriptor) error {
	dec0, dec1, err := m.decimals(ctx, desc.Pool)
	if err != nil {
		return err
	}

	plan := ComputePlan(desc.Ratio, desc.Balance0, desc.Balance1, dec0, dec1, desc.CurrentTick, m.minSwapValue)
	if plan.Skip {
		m.log.Info("swap skipped", zap.Float64("delta_value", plan.DeltaValue))
		return nil
	}

	tokenIn, tokenOut := desc.Pool.Token1, desc.Pool.Token0
	if plan.TokenInIs0 {
		tokenIn, tokenOut = desc.Pool.Token0, desc.Pool.Token1
	}

	receipt, err := m.swapper.Swap(ctx, tokenIn, tokenOut, plan.AmountIn, desc.Pool)
	if err != nil {
		return err
	}
	if receipt != nil {
		desc.TxHashes = append(desc.TxHashes, receipt.TxHash.Hex())
	}

	m.settle(ctx, m.delays.AfterSwap)
	return m.readBalances(ctx, desc)
}

func (m *Machine) mint(ctx context.Context, desc *Descriptor) error {
	if err := m.approvals.Ensure(ctx, desc.Pool.Token0, m.manager.Address, desc.Balance0); err != nil {
		return err
	}
	if err := m.approvals.Ensure(ctx, desc.Pool.Token1, m.manager.Address, desc.Balance1); err != nil {
		return err
	}

	params := dex.MintParams{
		Token0:         desc.Pool.Token0,
		Token1:         desc.Pool.Token1,
		TickSpacing:    big.NewInt(int64(desc.Pool.TickSpacing)),
		TickLower:      big.NewInt(int64(desc.Target.Lower)),
		TickUpper:      big.NewInt(int64(desc.Target.Upper)),
		Amount0Desired: desc.Balance0,
		Amount1Desired: desc.Balance1,
		Amount0Min:     swap.MinOut(desc.Balance0, m.slippageBps),
		Amount1Min:     swap.MinOut(desc.Balance1, m.slippageBps),
		Recipient:      m.sender.Address(),
		Deadline:       big.NewInt(time.Now().Add(mintDeadline).Unix()),
		SqrtPriceX96:   new(big.Int),
	}

	if _, err := m.manager.SimulateMint(ctx, m.sender.Address(), params); err != nil {
		return err
	}

	data, err := m.manager.MintCalldata(params)
	if err != nil {
		return err
	}
	receipt, err := m.sender.SendAndWait(ctx, chain.TxRequest{To: m.manager.Address, Data: data})
	if receipt != nil {
		desc.TxHashes = append(desc.TxHashes, receipt.TxHash.Hex())
	}
	if err != nil {
		return err
	}

	tokenID, err := dex.MintedTokenID(receipt, m.manager.Address)
	if err != nil {
		return err
	}
	desc.NewTokenID = tokenID

	m.log.Info("position minted",
		zap.String("token_id", tokenID.String()),
		zap.Int("tick_lower", desc.Target.Lower),
		zap.Int("tick_upper", desc.Target.Upper))
	return nil
}

func (m *Machine) stake(ctx context.Context, tokenID *big.Int, gaugeAddr common.Address, hashes *[]string) error {
	approved, err := m.manager.ApprovedFor(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("reading NFT approval: %w", err)
	}
	if approved != gaugeAddr {
		data, err := m.manager.ApproveCalldata(gaugeAddr, tokenID)
		if err != nil {
			return err
		}
		receipt, err := m.sender.SendAndWait(ctx, chain.TxRequest{To: m.manager.Address, Data: data})
		if receipt != nil {
			*hashes = append(*hashes, receipt.TxHash.Hex())
		}
		if err != nil {
			return fmt.Errorf("approving gauge: %w", err)
		}
	}

	gauge := dex.NewGauge(gaugeAddr, m.caller)
	data, err := gauge.DepositCalldata(tokenID)
	if err != nil {
		return err
	}
	receipt, err := m.sender.SendAndWait(ctx, chain.TxRequest{To: gaugeAddr, Data: data})
	if receipt != nil {
		*hashes = append(*hashes, receipt.TxHash.Hex())
	}
	if err != nil {
		return fmt.Errorf("gauge deposit: %w", err)
	}

	m.log.Info("position staked", zap.String("token_id", tokenID.String()))
	return nil
}

func (m *Machine) decimals(ctx context.Context, pool model.Pool) (uint8, uint8, error) {
	dec0, err := m.tokenDecimals(ctx, pool.Token0)
	if err != nil {
		return 0, 0, err
	}
	dec1, err := m.tokenDecimals(ctx, pool.Token1)
	if err != nil {
		return 0, 0, err
	}
	return dec0, dec1, nil
}

func (m *Machine) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if meta, ok := m.tokens.Get(token); ok {
		return meta.Decimals, nil
	}
	meta, err := dex.FetchTokenMeta(ctx, m.caller, token, m.log)
	if err != nil {
		return 0, fmt.Errorf("fetching token metadata %s: %w", token.Hex(), err)
	}
	m.tokens.Set(token, meta)
	return meta.Decimals, nil
}

func (m *Machine) settle(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
