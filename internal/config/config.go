package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig reports an invalid or missing configuration value. Always
// fatal at startup.
var ErrConfig = errors.New("invalid configuration")

// SwapMode selects which swap executor the keeper uses.
type SwapMode string

const (
	SwapAggregator SwapMode = "aggregator"
	SwapDirect     SwapMode = "direct"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PrivateKey string
	RPCURL     string

	CheckInterval      time.Duration
	SlippageBps        int64
	MinSwapValueUSDC   float64
	AutoRebalance      bool
	RangeMultiplier    float64
	RebalanceThreshold float64

	GasStrategy     string
	MaxGasPrice     *big.Int // wei
	PriorityFee     *big.Int // wei
	RPCCallTimeout  time.Duration
	TxWaitTimeout   time.Duration

	PositionManagers []common.Address
	Factories        []common.Address
	FeeTiers         []uint32
	Gauges           []common.Address
	Quoter           common.Address
	SwapRouter       common.Address
	Permit2          common.Address
	USDC             common.Address

	SwapMode        SwapMode
	AggregatorURL   string
	AggregatorChain string
	ClientID        string
	Source          string
	IncludedSources string
	AllowedRouters  []common.Address

	PostgresDSN string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
// Environment keys are the flag names uppercased with dashes replaced by
// underscores, so --base-rpc-url reads BASE_RPC_URL.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("check-interval", 30_000)
	v.SetDefault("slippage-bps", int64(300))
	v.SetDefault("min-swap-value-usdc", 20.0)
	v.SetDefault("auto-rebalance", false)
	v.SetDefault("range-multiplier", 2.6)
	v.SetDefault("rebalance-threshold", 20.0)
	v.SetDefault("gas-strategy", "auto")
	v.SetDefault("max-gas-price", 0.05)
	v.SetDefault("priority-fee-gwei", 0.001)
	v.SetDefault("rpc-call-timeout-ms", 30_000)
	v.SetDefault("tx-wait-timeout-ms", 180_000)
	v.SetDefault("swap-mode", string(SwapAggregator))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	managers, err := parseAddresses(getStringSlice(v, "position-managers"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: position-managers: %v", ErrConfig, err)
	}
	factories, err := parseAddresses(getStringSlice(v, "factories"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: factories: %v", ErrConfig, err)
	}
	gauges, err := parseAddresses(getStringSlice(v, "gauges"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: gauges: %v", ErrConfig, err)
	}
	allowedRouters, err := parseAddresses(getStringSlice(v, "allowed-routers"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: allowed-routers: %v", ErrConfig, err)
	}
	feeTiers, err := parseFeeTiers(getStringSlice(v, "fee-tiers"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: fee-tiers: %v", ErrConfig, err)
	}

	cfg := Config{
		PrivateKey:         v.GetString("private-key"),
		RPCURL:             v.GetString("base-rpc-url"),
		CheckInterval:      time.Duration(v.GetInt64("check-interval")) * time.Millisecond,
		SlippageBps:        v.GetInt64("slippage-bps"),
		MinSwapValueUSDC:   v.GetFloat64("min-swap-value-usdc"),
		AutoRebalance:      v.GetBool("auto-rebalance"),
		RangeMultiplier:    v.GetFloat64("range-multiplier"),
		RebalanceThreshold: v.GetFloat64("rebalance-threshold"),
		GasStrategy:        v.GetString("gas-strategy"),
		MaxGasPrice:        gweiToWei(v.GetFloat64("max-gas-price")),
		PriorityFee:        gweiToWei(v.GetFloat64("priority-fee-gwei")),
		RPCCallTimeout:     time.Duration(v.GetInt64("rpc-call-timeout-ms")) * time.Millisecond,
		TxWaitTimeout:      time.Duration(v.GetInt64("tx-wait-timeout-ms")) * time.Millisecond,
		PositionManagers:   managers,
		Factories:          factories,
		FeeTiers:           feeTiers,
		Gauges:             gauges,
		Quoter:             common.HexToAddress(v.GetString("quoter")),
		SwapRouter:         common.HexToAddress(v.GetString("swap-router")),
		Permit2:            common.HexToAddress(v.GetString("permit2")),
		USDC:               common.HexToAddress(v.GetString("usdc")),
		SwapMode:           SwapMode(v.GetString("swap-mode")),
		AggregatorURL:      v.GetString("api-base-url"),
		AggregatorChain:    v.GetString("chain"),
		ClientID:           v.GetString("client-id"),
		Source:             v.GetString("source"),
		IncludedSources:    v.GetString("included-sources"),
		AllowedRouters:     allowedRouters,
		PostgresDSN:        v.GetString("pg-dsn"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the configuration, failing fast on anything the keeper
// cannot start without.
func (c Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: PRIVATE_KEY is required", ErrConfig)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("%w: BASE_RPC_URL is required", ErrConfig)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: CHECK_INTERVAL must be positive", ErrConfig)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10_000 {
		return fmt.Errorf("%w: SLIPPAGE_BPS %d out of [0, 10000]", ErrConfig, c.SlippageBps)
	}
	if c.RangeMultiplier <= 0 {
		return fmt.Errorf("%w: RANGE_MULTIPLIER must be positive", ErrConfig)
	}
	if c.RebalanceThreshold < 0 {
		return fmt.Errorf("%w: REBALANCE_THRESHOLD must not be negative", ErrConfig)
	}
	switch c.GasStrategy {
	case "auto", "legacy":
	default:
		return fmt.Errorf("%w: unknown GAS_STRATEGY %q", ErrConfig, c.GasStrategy)
	}
	switch c.SwapMode {
	case SwapAggregator, SwapDirect:
	default:
		return fmt.Errorf("%w: unknown SWAP_MODE %q", ErrConfig, c.SwapMode)
	}
	if len(c.PositionManagers) == 0 {
		return fmt.Errorf("%w: at least one position manager address is required", ErrConfig)
	}
	if len(c.Factories) == 0 {
		return fmt.Errorf("%w: at least one factory address is required", ErrConfig)
	}
	if c.SwapMode == SwapAggregator {
		if c.AggregatorURL == "" {
			return fmt.Errorf("%w: API_BASE_URL is required in aggregator mode", ErrConfig)
		}
		if len(c.AllowedRouters) == 0 {
			return fmt.Errorf("%w: ALLOWED_ROUTERS is required in aggregator mode", ErrConfig)
		}
	}
	if c.SwapMode == SwapDirect {
		if c.SwapRouter == (common.Address{}) {
			return fmt.Errorf("%w: SWAP_ROUTER is required in direct mode", ErrConfig)
		}
		if c.Quoter == (common.Address{}) {
			return fmt.Errorf("%w: QUOTER is required in direct mode", ErrConfig)
		}
	}
	return nil
}

func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return new(big.Int)
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return wei
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
