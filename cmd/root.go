package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/arbengine/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbengine",
	Short: "A capital-free arbitrage and liquidation execution engine",
	Long: `A flash-loan execution engine that borrows, runs an arbitrage cycle or
a liquidation inside the loan callback, and settles only when the result is
strictly profitable. Runs against a simulated ledger world built from config.`,
}

// ExecuteContext runs the root command, propagating ctx to subcommands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in demo world)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
