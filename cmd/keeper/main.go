package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rangekeeper/internal/chain"
	"rangekeeper/internal/config"
	"rangekeeper/internal/dex"
	"rangekeeper/internal/monitor"
	"rangekeeper/internal/orchestrator"
	"rangekeeper/internal/rebalance"
	"rangekeeper/internal/report"
	"rangekeeper/internal/storage"
	"rangekeeper/internal/storage/postgres"
	"rangekeeper/internal/swap"
)

func main() {
	root := &cobra.Command{
		Use:          "keeper",
		Short:        "Concentrated liquidity range keeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper loop",
		RunE:  runKeeper,
	}

	runCmd.Flags().String("private-key", "", "signer private key (hex)")
	runCmd.Flags().String("base-rpc-url", "", "chain RPC URL")
	runCmd.Flags().Int64("check-interval", 30_000, "monitor interval in milliseconds")
	runCmd.Flags().Int64("slippage-bps", 300, "swap slippage tolerance in basis points")
	runCmd.Flags().Float64("min-swap-value-usdc", 20.0, "skip swaps below this value")
	runCmd.Flags().Bool("auto-rebalance", false, "enable automatic rebalancing")
	runCmd.Flags().Float64("range-multiplier", 2.6, "width multiplier for new ranges")
	runCmd.Flags().Float64("rebalance-threshold", 20.0, "percent out of range before rebalancing")
	runCmd.Flags().String("gas-strategy", "auto", "gas pricing strategy (auto, legacy)")
	runCmd.Flags().Float64("max-gas-price", 0.05, "max gas price in gwei")
	runCmd.Flags().Float64("priority-fee-gwei", 0.001, "priority fee in gwei")
	runCmd.Flags().Int64("rpc-call-timeout-ms", 30_000, "per-call RPC timeout")
	runCmd.Flags().Int64("tx-wait-timeout-ms", 180_000, "receipt wait timeout")
	runCmd.Flags().StringSlice("position-managers", nil, "position manager addresses (comma-separated)")
	runCmd.Flags().StringSlice("factories", nil, "factory addresses (comma-separated)")
	runCmd.Flags().StringSlice("fee-tiers", nil, "fee tiers to probe (comma-separated)")
	runCmd.Flags().StringSlice("gauges", nil, "gauge addresses (comma-separated)")
	runCmd.Flags().String("quoter", "", "quoter address (direct mode)")
	runCmd.Flags().String("swap-router", "", "swap router address (direct mode)")
	runCmd.Flags().String("permit2", "", "permit2 address")
	runCmd.Flags().String("usdc", "", "USDC address")
	runCmd.Flags().String("swap-mode", "aggregator", "swap execution mode (aggregator, direct)")
	runCmd.Flags().String("api-base-url", "", "aggregator API base URL")
	runCmd.Flags().String("chain", "base", "aggregator chain name")
	runCmd.Flags().String("client-id", "", "aggregator client id header")
	runCmd.Flags().String("source", "", "aggregator source tag")
	runCmd.Flags().String("included-sources", "", "aggregator liquidity sources filter")
	runCmd.Flags().StringSlice("allowed-routers", nil, "router addresses trusted for aggregator swaps")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for cycle history")
	runCmd.Flags().String("snapshot-file", "", "JSONL cycle snapshot path")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded cycle history",
		RunE:  runReport,
	}
	reportCmd.Flags().String("pg-dsn", "", "Postgres DSN for cycle history")
	reportCmd.Flags().Int("since-hours", 24, "reporting window in hours")
	reportCmd.Flags().Uint8("reward-decimals", 18, "decimals of the gauge reward token")
	reportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)
	root.AddCommand(reportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	dsn, _ := cmd.Flags().GetString("pg-dsn")
	if dsn == "" {
		dsn = os.Getenv("PG_DSN")
	}
	if dsn == "" {
		return fmt.Errorf("%w: PG_DSN is required for report", config.ErrConfig)
	}

	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	sinceHours, _ := cmd.Flags().GetInt("since-hours")
	since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)

	cycles, err := store.CycleHistory(ctx, since)
	if err != nil {
		return err
	}
	positions, err := store.PositionHistory(ctx, since)
	if err != nil {
		return err
	}

	rewardDecimals, _ := cmd.Flags().GetUint8("reward-decimals")
	summary := report.Build(since, cycles, positions)

	logger.Info("report",
		zap.Time("since", summary.Since),
		zap.Int("cycles", summary.Cycles),
		zap.Int("stakes", summary.Stakes),
		zap.Int("rebalances", summary.Rebalances),
		zap.Int("bootstraps", summary.Bootstraps),
		zap.Int("failures", summary.Failures),
		zap.Int("transactions", summary.Transactions),
	)
	for _, pos := range summary.Positions {
		logger.Info("position",
			zap.String("token_id", pos.TokenID),
			zap.String("pool", pos.Pool),
			zap.Int("cycles", pos.Cycles),
			zap.Float64("time_in_range_pct", pos.TimeInRangePct),
			zap.Float64("max_percent_out", pos.MaxPercentOut),
			zap.Int("staked_cycles", pos.StakedCycles),
			zap.Int("tick_lower", pos.LastRange.Lower),
			zap.Int("tick_upper", pos.LastRange.Upper),
			zap.String("earned", report.FormatRewardAmount(pos.LastEarned, rewardDecimals)),
			zap.Time("last_seen", pos.LastSeen),
		)
	}

	return nil
}

func runKeeper(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCCallTimeout, cfg.TxWaitTimeout)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	strategy := chain.GasEIP1559
	if cfg.GasStrategy == "legacy" {
		strategy = chain.GasLegacy
	}
	fees := chain.NewFeePolicy(strategy, cfg.MaxGasPrice, cfg.PriorityFee, logger)

	signer, err := chain.NewSigner(cfg.PrivateKey, chainID, fees, client, logger)
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}

	logger.Info("keeper start",
		zap.String("account", signer.Address().Hex()),
		zap.String("chain_id", chainID.String()),
		zap.Duration("interval", cfg.CheckInterval),
		zap.Bool("auto_rebalance", cfg.AutoRebalance),
		zap.String("swap_mode", string(cfg.SwapMode)),
	)

	manager := dex.NewPositionManager(cfg.PositionManagers[0], client)
	locator := dex.NewPoolLocator(cfg.Factories, cfg.FeeTiers, client)
	approvals := swap.NewApprovalManager(client, signer, cfg.Permit2, logger)

	var swapper swap.Executor
	switch cfg.SwapMode {
	case config.SwapDirect:
		swapper = swap.NewDirect(cfg.SwapRouter, cfg.Quoter, cfg.SlippageBps, client, signer, approvals, logger)
	default:
		swapper = swap.NewAggregator(swap.AggregatorConfig{
			BaseURL:         cfg.AggregatorURL,
			Chain:           cfg.AggregatorChain,
			ClientID:        cfg.ClientID,
			Source:          cfg.Source,
			IncludedSources: cfg.IncludedSources,
			AllowedRouters:  cfg.AllowedRouters,
			SlippageBps:     cfg.SlippageBps,
		}, client, signer, approvals, logger)
	}

	tokens := dex.NewTokenMetaCache()
	pools := dex.NewPoolMetaCache()

	machine := rebalance.NewMachine(
		client, signer, manager, swapper, approvals, tokens,
		cfg.SlippageBps, cfg.MinSwapValueUSDC,
		rebalance.SettleDelays{
			AfterUnstake:  2 * time.Second,
			AfterWithdraw: 2 * time.Second,
			AfterSwap:     2 * time.Second,
		},
		logger,
	)

	recorder, closeRecorder, err := newRecorder(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeRecorder()

	mon := monitor.New(
		client, manager, locator, machine, signer.Address(), cfg.Gauges,
		pools, tokens,
		monitor.Config{
			AutoRebalance:      cfg.AutoRebalance,
			RebalanceThreshold: cfg.RebalanceThreshold,
			RangeMultiplier:    cfg.RangeMultiplier,
			MinSwapValue:       cfg.MinSwapValueUSDC,
		},
		recorder, logger,
	)

	loop := orchestrator.New(mon, cfg.CheckInterval, logger)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRecorder(ctx context.Context, cmd *cobra.Command, cfg config.Config) (monitor.Recorder, func(), error) {
	if cfg.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store, store.Close, nil
	}

	if path, _ := cmd.Flags().GetString("snapshot-file"); path != "" {
		return storage.NewJsonlRecorder(path), func() {}, nil
	}

	return storage.Nop{}, func() {}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
