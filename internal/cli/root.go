package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Execution governance for automated commands",
	Long:  "Gates commands behind rate limits, earned confidence, delegated approvals,\nand an append-only receipt ledger. Autonomy is granted incrementally and\nrevoked automatically on regression.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.steward/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
