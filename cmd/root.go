package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/config"
)

var (
	cfg    *config.Config
	caller string
)

var rootCmd = &cobra.Command{
	Use:   "dmrv",
	Short: "Digital measurement, reporting and verification for carbon credits",
	Long: "Registers projects and methodologies, routes credit claims to verifier modules, " +
		"arbitrates disputes with staked juries and issues credits on a ledger.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&caller, "as", os.Getenv("DMRV_CALLER"), "address the command acts as")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
