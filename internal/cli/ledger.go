package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/ledger"
)

var tailLines int

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent receipts to show")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Receipt ledger operations",
	Long:  "Commands for verifying and inspecting the hash-chained receipt ledger.",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the receipt ledger",
	Long:  "Walks the JSONL ledger and validates that every receipt's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerVerify,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent receipts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerTail,
}

func ledgerPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.LedgerPath, nil
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	path, err := ledgerPath(args)
	if err != nil {
		return err
	}

	result := ledger.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d receipts verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	path, err := ledgerPath(args)
	if err != nil {
		return err
	}

	receipts, err := ledger.Tail(path, tailLines)
	if err != nil {
		return err
	}
	for _, r := range receipts {
		out, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}
