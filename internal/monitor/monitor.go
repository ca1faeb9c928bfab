package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rangekeeper/internal/clmath"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/model"
	"rangekeeper/internal/rebalance"
)

// Recorder persists per-cycle observations. Implementations must treat
// failures as non-fatal; the monitor only logs them.
type Recorder interface {
	RecordCycle(ctx context.Context, snapshot model.CycleSnapshot) error
}

// Config tunes the monitor's classification and actions.
type Config struct {
	AutoRebalance      bool
	RebalanceThreshold float64
	RangeMultiplier    float64
	MinSwapValue       float64
}

// gaugeInfo caches one gauge's pool binding.
type gaugeInfo struct {
	gauge *dex.Gauge
	pool  model.Pool
}

// Monitor runs one observe/classify/act pass per orchestrator tick.
type Monitor struct {
	caller  dex.Caller
	manager *dex.PositionManager
	locator *dex.PoolLocator
	machine *rebalance.Machine
	account common.Address

	gaugeAddrs []common.Address
	gauges     []gaugeInfo

	pools    *dex.PoolMetaCache
	tokens   *dex.TokenMetaCache
	cfg      Config
	recorder Recorder
	log      *zap.Logger

	cycle uint64
}

func New(
	caller dex.Caller,
	manager *dex.PositionManager,
	locator *dex.PoolLocator,
	machine *rebalance.Machine,
	account common.Address,
	gaugeAddrs []common.Address,
	pools *dex.PoolMetaCache,
	tokens *dex.TokenMetaCache,
	cfg Config,
	recorder Recorder,
	log *zap.Logger,
) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if pools == nil {
		pools = dex.NewPoolMetaCache()
	}
	if tokens == nil {
		tokens = dex.NewTokenMetaCache()
	}
	return &Monitor{
		caller:     caller,
		manager:    manager,
		locator:    locator,
		machine:    machine,
		account:    account,
		gaugeAddrs: gaugeAddrs,
		pools:      pools,
		tokens:     tokens,
		cfg:        cfg,
		recorder:   recorder,
		log:        log,
	}
}

// observed is one classified position within a cycle.
type observed struct {
	position   model.Position
	pool       model.Pool
	slot0      model.Slot0
	inRange    bool
	percentOut float64
	gauge      common.Address
	earned     *big.Int
}

// RunCycle observes every position, acts on what it finds, and records a
// snapshot. A position whose read fails or whose pool cannot be located is
// skipped; enumeration failures, other pool-resolution errors and slot0
// read failures fail the cycle.
func (m *Monitor) RunCycle(ctx context.Context) error {
	m.cycle++
	snapshot := model.CycleSnapshot{Cycle: m.cycle, Timestamp: time.Now().UTC()}

	if err := m.ensureGauges(ctx); err != nil {
		return fmt.Errorf("resolving gauges: %w", err)
	}

	positions, err := m.scan(ctx)
	if err != nil {
		return err
	}

	if len(positions) == 0 {
		m.bootstrap(ctx, &snapshot)
		m.record(ctx, snapshot)
		return nil
	}

	rebalanced := false
	for _, obs := range positions {
		snapshot.Positions = append(snapshot.Positions, toSnapshot(obs))

		switch {
		case obs.inRange && !obs.position.Staked && obs.gauge != (common.Address{}):
			m.autoStake(ctx, obs, &snapshot)

		case !obs.inRange && obs.percentOut >= m.cfg.RebalanceThreshold:
			if !m.cfg.AutoRebalance {
				m.log.Info("rebalance candidate found, auto-rebalance disabled",
					zap.String("token_id", obs.position.TokenID.String()),
					zap.Float64("percent_out", obs.percentOut))
				continue
			}
			if rebalanced {
				m.log.Info("rebalance deferred, one already ran this cycle",
					zap.String("token_id", obs.position.TokenID.String()))
				continue
			}
			rebalanced = true
			m.runRebalance(ctx, obs, &snapshot)
		}
	}

	m.record(ctx, snapshot)
	return nil
}

func (m *Monitor) ensureGauges(ctx context.Context) error {
	if len(m.gauges) == len(m.gaugeAddrs) {
		return nil
	}
	m.gauges = m.gauges[:0]
	for _, addr := range m.gaugeAddrs {
		gauge := dex.NewGauge(addr, m.caller)
		poolAddr, err := gauge.Pool(ctx)
		if err != nil {
			return fmt.Errorf("gauge %s pool: %w", addr.Hex(), err)
		}
		pool, err := m.poolMeta(ctx, poolAddr)
		if err != nil {
			return err
		}
		m.gauges = append(m.gauges, gaugeInfo{gauge: gauge, pool: pool})
	}
	return nil
}

func (m *Monitor) poolMeta(ctx context.Context, addr common.Address) (model.Pool, error) {
	if pool, ok := m.pools.Get(addr); ok {
		return pool, nil
	}
	pool, err := dex.FetchPoolMeta(ctx, m.caller, addr, m.tokens, m.log)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s metadata: %w", addr.Hex(), err)
	}
	m.pools.Set(addr, pool)
	return pool, nil
}

// scan enumerates, fetches, and classifies every live position.
func (m *Monitor) scan(ctx context.Context) ([]observed, error) {
	type candidate struct {
		id     *big.Int
		staked bool
		gauge  common.Address
	}
	var candidates []candidate

	unstaked, err := m.manager.OwnedTokenIDs(ctx, m.account)
	if err != nil {
		return nil, fmt.Errorf("enumerating owned positions: %w", err)
	}
	for _, id := range unstaked {
		candidates = append(candidates, candidate{id: id})
	}

	for _, info := range m.gauges {
		staked, err := info.gauge.StakedTokenIDs(ctx, m.account)
		if err != nil {
			return nil, fmt.Errorf("enumerating staked positions: %w", err)
		}
		for _, id := range staked {
			candidates = append(candidates, candidate{id: id, staked: true, gauge: info.gauge.Address})
		}
	}

	slot0ByPool := make(map[common.Address]model.Slot0)
	var result []observed

	for _, cand := range candidates {
		position, err := m.manager.Position(ctx, cand.id)
		if err != nil {
			m.log.Warn("position fetch failed, skipping",
				zap.String("token_id", cand.id.String()), zap.Error(err))
			continue
		}
		if position.Closed() {
			continue
		}
		position.Staked = cand.staked
		position.Gauge = cand.gauge

		pool, gaugeAddr, err := m.resolvePool(ctx, position)
		if err != nil {
			if errors.Is(err, dex.ErrPoolNotFound) {
				m.log.Warn("pool not found, skipping position",
					zap.String("token_id", cand.id.String()))
				continue
			}
			return nil, err
		}
		position.Pool = pool.Address

		slot0, ok := slot0ByPool[pool.Address]
		if !ok {
			slot0, err = dex.ReadSlot0(ctx, m.caller, pool.Address)
			if err != nil {
				return nil, fmt.Errorf("slot0 %s: %w", pool.Address.Hex(), err)
			}
			slot0ByPool[pool.Address] = slot0
		}

		obs := observed{
			position: position,
			pool:     pool,
			slot0:    slot0,
			gauge:    gaugeAddr,
		}
		obs.inRange = position.Range.Contains(slot0.Tick)
		obs.percentOut = percentOut(slot0.Tick, position.Range)

		if cand.staked && cand.gauge != (common.Address{}) {
			gauge := dex.NewGauge(cand.gauge, m.caller)
			if earned, err := gauge.Earned(ctx, m.account, cand.id); err == nil {
				obs.earned = earned
			}
		}

		result = append(result, obs)
	}

	return result, nil
}

// resolvePool finds the position's pool, preferring a configured gauge
// with the matching pair before falling back to the locator.
func (m *Monitor) resolvePool(ctx context.Context, position model.Position) (model.Pool, common.Address, error) {
	for _, info := range m.gauges {
		if position.PairMatches(info.pool.Token0, info.pool.Token1) {
			return info.pool, info.gauge.Address, nil
		}
	}

	addr, err := m.locator.Locate(ctx, position.Token0, position.Token1)
	if err != nil {
		return model.Pool{}, common.Address{}, err
	}
	pool, err := m.poolMeta(ctx, addr)
	if err != nil {
		return model.Pool{}, common.Address{}, err
	}
	return pool, common.Address{}, nil
}

// percentOut measures drift beyond the violated boundary as a percent of
// the range width. Zero when inside the range.
func percentOut(currentTick int, r model.TickRange) float64 {
	width := r.Width()
	if width <= 0 {
		return 0
	}
	switch {
	case currentTick < r.Lower:
		return float64(r.Lower-currentTick) / float64(width) * 100
	case currentTick >= r.Upper:
		return float64(currentTick-r.Upper) / float64(width) * 100
	default:
		return 0
	}
}

func (m *Monitor) autoStake(ctx context.Context, obs observed, snapshot *model.CycleSnapshot) {
	m.log.Info("staking in-range position",
		zap.String("token_id", obs.position.TokenID.String()))
	if err := m.machine.StakePosition(ctx, obs.position.TokenID, obs.gauge); err != nil {
		m.log.Warn("auto-stake failed", zap.Error(err))
		return
	}
	snapshot.Actions = append(snapshot.Actions, "stake:"+obs.position.TokenID.String())
}

func (m *Monitor) runRebalance(ctx context.Context, obs observed, snapshot *model.CycleSnapshot) {
	target, err := clmath.ComputeNewRange(obs.slot0.Tick, obs.pool.TickSpacing, m.cfg.RangeMultiplier)
	if err != nil {
		m.log.Error("new range computation failed", zap.Error(err))
		return
	}

	m.log.Info("rebalancing position",
		zap.String("token_id", obs.position.TokenID.String()),
		zap.Float64("percent_out", obs.percentOut),
		zap.Int("target_lower", target.Lower),
		zap.Int("target_upper", target.Upper))

	desc := rebalance.NewDescriptor(obs.position, target, obs.pool, obs.gauge)
	err = m.machine.Run(ctx, desc)
	snapshot.TxHashes = append(snapshot.TxHashes, desc.TxHashes...)
	if err != nil {
		var stageErr *rebalance.StageError
		if errors.As(err, &stageErr) {
			m.log.Error("rebalance aborted",
				zap.String("stage", stageErr.Stage.String()),
				zap.Error(stageErr.Err))
		} else {
			m.log.Error("rebalance aborted", zap.Error(err))
		}
		snapshot.Actions = append(snapshot.Actions, "rebalance_failed:"+obs.position.TokenID.String())
		return
	}

	snapshot.Actions = append(snapshot.Actions, "rebalance:"+obs.position.TokenID.String())
}

// bootstrap creates a first position when the wallet only holds
// fungibles. It reuses the machine from the ratio stage on.
func (m *Monitor) bootstrap(ctx context.Context, snapshot *model.CycleSnapshot) {
	if !m.cfg.AutoRebalance || len(m.gauges) == 0 {
		return
	}
	info := m.gauges[0]

	bal0, err := dex.ReadBalance(ctx, m.caller, info.pool.Token0, m.account)
	if err != nil {
		m.log.Warn("bootstrap balance read failed", zap.Error(err))
		return
	}
	bal1, err := dex.ReadBalance(ctx, m.caller, info.pool.Token1, m.account)
	if err != nil {
		m.log.Warn("bootstrap balance read failed", zap.Error(err))
		return
	}

	value, err := m.walletValue(ctx, info.pool, bal0, bal1)
	if err != nil {
		m.log.Warn("bootstrap value computation failed", zap.Error(err))
		return
	}
	if value < m.cfg.MinSwapValue {
		return
	}

	slot0, err := dex.ReadSlot0(ctx, m.caller, info.pool.Address)
	if err != nil {
		m.log.Warn("bootstrap slot0 read failed", zap.Error(err))
		return
	}
	target, err := clmath.ComputeNewRange(slot0.Tick, info.pool.TickSpacing, m.cfg.RangeMultiplier)
	if err != nil {
		m.log.Error("bootstrap range computation failed", zap.Error(err))
		return
	}

	m.log.Info("bootstrapping initial position",
		zap.Float64("wallet_value", value),
		zap.Int("target_lower", target.Lower),
		zap.Int("target_upper", target.Upper))

	desc := rebalance.BootstrapDescriptor(target, info.pool, info.gauge.Address, bal0, bal1)
	err = m.machine.Run(ctx, desc)
	snapshot.TxHashes = append(snapshot.TxHashes, desc.TxHashes...)
	if err != nil {
		m.log.Error("bootstrap failed", zap.Error(err))
		snapshot.Actions = append(snapshot.Actions, "bootstrap_failed")
		return
	}
	snapshot.Actions = append(snapshot.Actions, "bootstrap")
}

// walletValue prices both balances in token1 human units.
func (m *Monitor) walletValue(ctx context.Context, pool model.Pool, bal0, bal1 *big.Int) (float64, error) {
	meta0, ok := m.tokens.Get(pool.Token0)
	if !ok {
		var err error
		meta0, err = dex.FetchTokenMeta(ctx, m.caller, pool.Token0, m.log)
		if err != nil {
			return 0, err
		}
		m.tokens.Set(pool.Token0, meta0)
	}
	meta1, ok := m.tokens.Get(pool.Token1)
	if !ok {
		var err error
		meta1, err = dex.FetchTokenMeta(ctx, m.caller, pool.Token1, m.log)
		if err != nil {
			return 0, err
		}
		m.tokens.Set(pool.Token1, meta1)
	}

	slot0, err := dex.ReadSlot0(ctx, m.caller, pool.Address)
	if err != nil {
		return 0, err
	}

	price := clmath.HumanPrice(slot0.Tick, meta0.Decimals, meta1.Decimals)
	human0 := toHuman(bal0, meta0.Decimals)
	human1 := toHuman(bal1, meta1.Decimals)
	return human0*price + human1, nil
}

func toHuman(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)),
	).Float64()
	return value
}

func toSnapshot(obs observed) model.PositionSnapshot {
	snap := model.PositionSnapshot{
		TokenID:     obs.position.TokenID.String(),
		Pool:        obs.pool.Address.Hex(),
		TickLower:   obs.position.Range.Lower,
		TickUpper:   obs.position.Range.Upper,
		Liquidity:   obs.position.Liquidity.String(),
		CurrentTick: obs.slot0.Tick,
		InRange:     obs.inRange,
		PercentOut:  obs.percentOut,
		Staked:      obs.position.Staked,
	}
	if obs.earned != nil {
		snap.Earned = obs.earned.String()
	}
	return snap
}

func (m *Monitor) record(ctx context.Context, snapshot model.CycleSnapshot) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordCycle(ctx, snapshot); err != nil {
		m.log.Warn("cycle snapshot persist failed", zap.Error(err))
	}
}
