package cmd

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/engine"
	"github.com/michaelpento.lv/arbengine/ledger"
	"github.com/michaelpento.lv/arbengine/lending"
	"github.com/michaelpento.lv/arbengine/monitor"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/strategies/liquidation"
)

// world is the fully wired simulation: everything the run command needs.
type world struct {
	cfg     *config.Config
	led     *ledger.Ledger
	pool    *lending.Pool
	vault   *lending.Vault
	routers *router.Registry
	eng     *engine.Engine
	builder *arbitrage.Builder
	planner *liquidation.Planner
	mon     *monitor.Monitor
	owner   common.Address
}

// buildWorld instantiates the configured world on a fresh ledger.
func buildWorld(cfg *config.Config, log *zap.Logger) (*world, error) {
	led := ledger.New()
	engineAddr := common.HexToAddress(cfg.Engine.Address)
	owner := common.HexToAddress(cfg.Engine.Owner)

	pool := lending.NewPool(common.HexToAddress(cfg.Pool.Address), led, cfg.Pool.PremiumBps, log)
	for _, r := range cfg.Pool.Reserves {
		price, err := config.ParseAmount(r.PriceWad)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", r.Asset, err)
		}
		asset := common.HexToAddress(r.Asset)
		pool.AddReserve(asset, lending.ReserveConfig{
			PriceWad:                price,
			LiquidationThresholdBps: r.LiquidationThresholdBps,
			LiquidationBonusBps:     r.LiquidationBonusBps,
		})
		if r.Liquidity != "" {
			liquidity, err := config.ParseAmount(r.Liquidity)
			if err != nil {
				return nil, fmt.Errorf("reserve %s liquidity: %w", r.Asset, err)
			}
			pool.FundReserve(asset, liquidity)
		}
	}

	vault := lending.NewVault(common.HexToAddress(cfg.Vault.Address), led, log)
	for _, f := range cfg.Vault.Funding {
		amount, err := config.ParseAmount(f.Amount)
		if err != nil {
			return nil, fmt.Errorf("vault funding %s: %w", f.Asset, err)
		}
		vault.Fund(common.HexToAddress(f.Asset), amount)
	}

	registry := router.NewRegistry()
	var unwind router.Router
	for _, v := range cfg.Routers {
		venue, err := buildVenue(v, led)
		if err != nil {
			return nil, err
		}
		registry.Register(venue)
		if unwind == nil {
			if _, ok := venue.(*router.SwapRouter); ok {
				unwind = venue
			}
		}
	}
	if unwind == nil {
		return nil, fmt.Errorf("no swap router configured for liquidation unwind")
	}

	for _, b := range cfg.Borrowers {
		collateral, err := config.ParseAmount(b.CollateralAmount)
		if err != nil {
			return nil, fmt.Errorf("borrower %s collateral: %w", b.Address, err)
		}
		debt, err := config.ParseAmount(b.DebtAmount)
		if err != nil {
			return nil, fmt.Errorf("borrower %s debt: %w", b.Address, err)
		}
		pool.SeedPosition(
			common.HexToAddress(b.Address),
			common.HexToAddress(b.CollateralAsset), collateral,
			common.HexToAddress(b.DebtAsset), debt,
		)
	}

	eng := engine.New(engineAddr, owner, led, pool, vault, registry, unwind, log)
	builder := arbitrage.NewBuilder(engineAddr, cfg.Engine.SlippageBps)
	planner := liquidation.NewPlanner(pool, unwind, cfg.Engine.SlippageBps)

	minProfit, err := config.ParseAmount(cfg.Monitor.MinProfit)
	if err != nil {
		return nil, fmt.Errorf("monitor min_profit: %w", err)
	}
	mon, err := monitor.New(eng, owner, pool, builder, time.Duration(cfg.Monitor.ScanInterval), minProfit, log)
	if err != nil {
		return nil, err
	}
	for _, r := range cfg.Monitor.Routes {
		principal, err := config.ParseAmount(r.Principal)
		if err != nil {
			return nil, fmt.Errorf("route %s principal: %w", r.Name, err)
		}
		buy := registry.Lookup(common.HexToAddress(r.Buy))
		sell := registry.Lookup(common.HexToAddress(r.Sell))
		if buy == nil || sell == nil {
			return nil, fmt.Errorf("route %s names an unregistered router", r.Name)
		}
		mon.AddRoute(monitor.Route{
			Name:      r.Name,
			Asset:     common.HexToAddress(r.Asset),
			Mid:       common.HexToAddress(r.Mid),
			Buy:       buy,
			Sell:      sell,
			FeeTier:   big.NewInt(int64(r.FeeTier)),
			Principal: principal,
		})
	}

	return &world{
		cfg:     cfg,
		led:     led,
		pool:    pool,
		vault:   vault,
		routers: registry,
		eng:     eng,
		builder: builder,
		planner: planner,
		mon:     mon,
		owner:   owner,
	}, nil
}

func buildVenue(v config.VenueConfig, led *ledger.Ledger) (router.Router, error) {
	addr := common.HexToAddress(v.Address)
	switch v.Kind {
	case "swap":
		venue := router.NewSwapRouter(addr, v.Name, led)
		for _, p := range v.Pools {
			reserveA, err := config.ParseAmount(p.ReserveA)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", v.Name, err)
			}
			reserveB, err := config.ParseAmount(p.ReserveB)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", v.Name, err)
			}
			venue.AddPool(common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB), p.Fee, reserveA, reserveB)
		}
		return venue, nil
	case "curve":
		coins := make([]common.Address, len(v.Coins))
		for i, c := range v.Coins {
			coins[i] = common.HexToAddress(c)
		}
		rates := make([]*big.Int, len(v.Rates))
		for i, r := range v.Rates {
			rate, err := config.ParseAmount(r)
			if err != nil {
				return nil, fmt.Errorf("venue %s rate: %w", v.Name, err)
			}
			rates[i] = rate
		}
		venue := router.NewCurvePool(addr, v.Name, led, coins, rates, v.FeeBps)
		if len(v.Balances) > 0 {
			balances := make([]*big.Int, len(v.Balances))
			for i, b := range v.Balances {
				bal, err := config.ParseAmount(b)
				if err != nil {
					return nil, fmt.Errorf("venue %s balance: %w", v.Name, err)
				}
				balances[i] = bal
			}
			venue.Fund(balances)
		}
		return venue, nil
	default:
		return nil, fmt.Errorf("venue %s: unknown kind %q", v.Name, v.Kind)
	}
}
