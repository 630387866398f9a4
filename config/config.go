// Package config describes the simulated world the engine runs in: assets,
// the lending pool and vault, swap venues, seeded positions, and the monitor
// settings. Loaded from YAML with environment overrides.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Pool      PoolConfig       `yaml:"pool"`
	Vault     VaultConfig      `yaml:"vault"`
	Routers   []VenueConfig    `yaml:"routers"`
	Borrowers []BorrowerConfig `yaml:"borrowers"`
	Monitor   MonitorConfig    `yaml:"monitor"`

	// MetricsAddr is where the Prometheus handler listens; empty disables it
	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

type EngineConfig struct {
	Address     string `yaml:"address"`
	Owner       string `yaml:"owner"`
	SlippageBps uint16 `yaml:"slippage_bps"`
}

type PoolConfig struct {
	Address    string          `yaml:"address"`
	PremiumBps uint16          `yaml:"premium_bps"`
	Reserves   []ReserveConfig `yaml:"reserves"`
}

type ReserveConfig struct {
	Asset                   string `yaml:"asset"`
	PriceWad                string `yaml:"price_wad"`
	LiquidationThresholdBps uint16 `yaml:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint16 `yaml:"liquidation_bonus_bps"`
	Liquidity               string `yaml:"liquidity"`
}

type VenueConfig struct {
	Address  string       `yaml:"address"`
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`  // "swap" or "curve"
	Pools    []PairConfig `yaml:"pools"` // swap venues
	Coins    []string     `yaml:"coins"` // curve venues
	Rates    []string     `yaml:"rates"` // wad per coin
	FeeBps   uint16       `yaml:"fee_bps"`
	Balances []string     `yaml:"balances"`
}

type PairConfig struct {
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	Fee      uint32 `yaml:"fee"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

type VaultConfig struct {
	Address string          `yaml:"address"`
	Funding []FundingConfig `yaml:"funding"`
}

type FundingConfig struct {
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

type BorrowerConfig struct {
	Address          string `yaml:"address"`
	CollateralAsset  string `yaml:"collateral_asset"`
	CollateralAmount string `yaml:"collateral_amount"`
	DebtAsset        string `yaml:"debt_asset"`
	DebtAmount       string `yaml:"debt_amount"`
}

type MonitorConfig struct {
	ScanInterval Duration      `yaml:"scan_interval"`
	MinProfit    string        `yaml:"min_profit"`
	Routes       []RouteConfig `yaml:"routes"`
}

// Duration parses "250ms"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type RouteConfig struct {
	Name      string `yaml:"name"`
	Asset     string `yaml:"asset"`
	Mid       string `yaml:"mid"`
	Buy       string `yaml:"buy"`  // router address
	Sell      string `yaml:"sell"` // router address
	FeeTier   uint32 `yaml:"fee_tier"`
	Principal string `yaml:"principal"`
}

// Validate accumulates every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if !common.IsHexAddress(c.Engine.Address) {
		errs = append(errs, "engine.address must be a hex address")
	}
	if !common.IsHexAddress(c.Engine.Owner) {
		errs = append(errs, "engine.owner must be a hex address")
	}
	if c.Engine.SlippageBps >= 10_000 {
		errs = append(errs, "engine.slippage_bps must be below 10000")
	}
	if !common.IsHexAddress(c.Pool.Address) {
		errs = append(errs, "pool.address must be a hex address")
	}
	if len(c.Pool.Reserves) == 0 {
		errs = append(errs, "pool must list at least one reserve")
	}
	for i, r := range c.Pool.Reserves {
		if !common.IsHexAddress(r.Asset) {
			errs = append(errs, fmt.Sprintf("pool.reserves[%d].asset must be a hex address", i))
		}
		if _, err := ParseAmount(r.PriceWad); err != nil {
			errs = append(errs, fmt.Sprintf("pool.reserves[%d].price_wad: %v", i, err))
		}
	}
	for i, v := range c.Routers {
		if !common.IsHexAddress(v.Address) {
			errs = append(errs, fmt.Sprintf("routers[%d].address must be a hex address", i))
		}
		if v.Kind != "swap" && v.Kind != "curve" {
			errs = append(errs, fmt.Sprintf("routers[%d].kind must be swap or curve", i))
		}
		if v.Kind == "curve" && len(v.Coins) != len(v.Rates) {
			errs = append(errs, fmt.Sprintf("routers[%d]: coins and rates must match", i))
		}
	}
	if c.Monitor.ScanInterval <= 0 {
		errs = append(errs, "monitor.scan_interval must be positive")
	}
	if _, err := ParseAmount(c.Monitor.MinProfit); err != nil {
		errs = append(errs, fmt.Sprintf("monitor.min_profit: %v", err))
	}
	for i, r := range c.Monitor.Routes {
		if _, err := ParseAmount(r.Principal); err != nil {
			errs = append(errs, fmt.Sprintf("monitor.routes[%d].principal: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseAmount parses a decimal big integer from config.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return value, nil
}

// Load reads and validates a YAML config, applying env overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig is a complete demo world: a funded pool at the Aave V3
// premium, a zero-fee vault, two V3-style routers quoting the same pair at a
// spread, one curve pool, and one underwater borrower.
func DefaultConfig() *Config {
	const (
		usdc   = "0x00000000000000000000000000000000000A0001"
		weth   = "0x00000000000000000000000000000000000A0002"
		dai    = "0x00000000000000000000000000000000000A0003"
		pool   = "0x00000000000000000000000000000000000B0001"
		vault  = "0x00000000000000000000000000000000000B0002"
		uni    = "0x00000000000000000000000000000000000C0001"
		sushi  = "0x00000000000000000000000000000000000C0002"
		curve  = "0x00000000000000000000000000000000000C0003"
		engine = "0x00000000000000000000000000000000000D0001"
		owner  = "0x00000000000000000000000000000000000D0002"
		whale  = "0x00000000000000000000000000000000000E0001"
	)
	// prices are wad value per smallest unit: 6-decimal stables at 1 USD
	// carry 1e12, 18-decimal WETH at 2000 USD carries 2000
	usdPrice := "1000000000000"

	return &Config{
		Engine: EngineConfig{Address: engine, Owner: owner, SlippageBps: 50},
		Pool: PoolConfig{
			Address:    pool,
			PremiumBps: 5,
			Reserves: []ReserveConfig{
				{Asset: usdc, PriceWad: usdPrice, LiquidationThresholdBps: 8_500, LiquidationBonusBps: 500, Liquidity: "10000000000"},
				{Asset: weth, PriceWad: "2000", LiquidationThresholdBps: 8_000, LiquidationBonusBps: 500, Liquidity: "5000000000000000000000"},
				{Asset: dai, PriceWad: usdPrice, LiquidationThresholdBps: 8_500, LiquidationBonusBps: 400, Liquidity: "10000000000"},
			},
		},
		Vault: VaultConfig{
			Address: vault,
			Funding: []FundingConfig{{Asset: usdc, Amount: "5000000000"}},
		},
		Routers: []VenueConfig{
			{
				// 20M USDC / 10k WETH, spot 2000
				Address: uni, Name: "uniswap-v3", Kind: "swap",
				Pools: []PairConfig{
					{TokenA: usdc, TokenB: weth, Fee: 3000, ReserveA: "20000000000000", ReserveB: "10000000000000000000000"},
				},
			},
			{
				// same depth at spot 1960, the buy side of the demo spread
				Address: sushi, Name: "sushiswap-v3", Kind: "swap",
				Pools: []PairConfig{
					{TokenA: usdc, TokenB: weth, Fee: 3000, ReserveA: "19600000000000", ReserveB: "10000000000000000000000"},
				},
			},
			{
				Address: curve, Name: "curve-2pool", Kind: "curve",
				Coins:    []string{usdc, dai},
				Rates:    []string{"1000000000000000000", "1000000000000000000"},
				FeeBps:   4,
				Balances: []string{"20000000000", "20000000000"},
			},
		},
		Borrowers: []BorrowerConfig{
			{
				Address:          whale,
				CollateralAsset:  weth,
				CollateralAmount: "1000000000000000000",
				DebtAsset:        usdc,
				DebtAmount:       "1900000000",
			},
		},
		Monitor: MonitorConfig{
			ScanInterval: Duration(2 * time.Second),
			MinProfit:    "1000000",
			Routes: []RouteConfig{
				{
					Name: "usdc-weth-cross", Asset: usdc, Mid: weth,
					Buy: sushi, Sell: uni, FeeTier: 3000, Principal: "1000000000",
				},
			},
		},
		MetricsAddr: ":9090",
	}
}
