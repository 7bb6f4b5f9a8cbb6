package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(confidenceCmd)
	rootCmd.AddCommand(ackCmd)
}

var confidenceCmd = &cobra.Command{
	Use:   "confidence <fingerprint>",
	Short: "Show effective confidence for a fingerprint",
	Long:  "Prints the latest confidence artifact with decay applied at now, plus\nthe current regression state if one exists.",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfidence,
}

var ackCmd = &cobra.Command{
	Use:   "ack <fingerprint>",
	Short: "Acknowledge a confidence regression",
	Long:  "Clears the requires_ack block for a fingerprint. Acknowledgement is the\nonly way a regression stops gating auto-run; it never expires on its own.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAck,
}

func runConfidence(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	fp := args[0]
	eff, err := rt.gate.Confidence().Effective(cmd.Context(), fp, time.Now())
	if err != nil {
		return err
	}

	view := map[string]any{
		"fingerprint": fp,
		"found":       eff.Found,
		"band":        eff.Band,
	}
	if eff.Found {
		view["raw"] = fmt.Sprintf("%.1f", eff.Raw)
		view["decayed"] = fmt.Sprintf("%.1f", eff.Decayed)
		view["age"] = eff.Age.Round(time.Second).String()
	}

	check, found, err := rt.gate.Confidence().Regression(cmd.Context(), fp)
	if err != nil {
		return err
	}
	if found {
		view["regression"] = map[string]any{
			"severity":     check.Severity,
			"delta":        fmt.Sprintf("%.1f", check.Delta),
			"requires_ack": check.RequiresAck,
			"acknowledged": check.Acknowledged,
		}
	}

	out, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runAck(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.gate.Confidence().Acknowledge(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Acknowledged regression for %s\n", args[0])
	return nil
}
