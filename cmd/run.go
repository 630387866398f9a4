package cmd

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/arbengine/config"
	"github.com/michaelpento.lv/arbengine/engine"
	"github.com/michaelpento.lv/arbengine/utils"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against the configured world",
	Long: `Builds the simulated world from config, executes one liquidation pass
over the seeded borrowers, then scans arbitrage routes until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfg, err := loadWorldConfig()
		if err != nil {
			return err
		}

		w, err := buildWorld(cfg, log)
		if err != nil {
			return err
		}

		if cfg.MetricsAddr != "" {
			registerMetrics(w)
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
					log.Warn("metrics server stopped", zap.Error(err))
				}
			}()
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		}

		liquidatePass(w, log)

		log.Info("scanning arbitrage routes")
		if err := w.mon.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		sweep(w, log)
		return nil
	},
}

// registerMetrics puts every component's collectors on the default registry
// the /metrics handler serves.
func registerMetrics(w *world) {
	for _, cs := range [][]prometheus.Collector{
		w.eng.Collectors(),
		w.pool.Collectors(),
		w.vault.Collectors(),
		w.mon.Collectors(),
	} {
		prometheus.MustRegister(cs...)
	}
}

// loadWorldConfig reads the configured file, or falls back to the built-in
// demo world when none is given.
func loadWorldConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.GetEnvWithDefault(config.EnvConfigPath, "")
	}
	if path == "" {
		cfg := config.DefaultConfig()
		if debug {
			cfg.Debug = true
		}
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// liquidatePass tries each seeded borrower once, funding the repayment with a
// zero-fee vault loan.
func liquidatePass(w *world, log *zap.Logger) {
	for _, b := range w.cfg.Borrowers {
		target := common.HexToAddress(b.Address)
		collateral := common.HexToAddress(b.CollateralAsset)
		debtAsset := common.HexToAddress(b.DebtAsset)

		plan, err := w.planner.Build(target, collateral, debtAsset, big.NewInt(3000), new(big.Int))
		if err != nil {
			log.Info("borrower skipped", zap.String("target", b.Address), zap.Error(err))
			continue
		}
		params, err := engine.EncodeLiquidation(plan.Descriptor)
		if err != nil {
			log.Error("encode liquidation", zap.Error(err))
			continue
		}
		if err := w.eng.RequestVaultFlashLoan(w.owner, debtAsset, plan.DebtToCover, params); err != nil {
			log.Warn("liquidation failed", zap.String("target", b.Address), zap.Error(err))
			continue
		}
		log.Info("liquidation settled",
			zap.String("target", b.Address),
			zap.String("debt_covered", plan.DebtToCover.String()))
	}
}

// sweep withdraws every reserve asset plus native to the owner.
func sweep(w *world, log *zap.Logger) {
	for _, r := range w.cfg.Pool.Reserves {
		asset := common.HexToAddress(r.Asset)
		if err := w.eng.Withdraw(w.owner, asset); err != nil {
			log.Warn("withdraw failed", zap.String("asset", r.Asset), zap.Error(err))
		}
	}
	if err := w.eng.WithdrawNative(w.owner); err != nil {
		log.Warn("native withdraw failed", zap.Error(err))
	}
	for _, r := range w.cfg.Pool.Reserves {
		asset := common.HexToAddress(r.Asset)
		log.Info("owner balance",
			zap.String("asset", r.Asset),
			zap.String("amount", w.led.BalanceOf(asset, w.owner).String()))
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
