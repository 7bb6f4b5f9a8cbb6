package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/confidence"
)

var (
	recordRunMode      string
	recordRunCaps      []string
	recordRunCapRes    float64
	recordRunPolicy    string
	recordRunSuccess   float64
	recordRunsObserved int
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordRunCmd)
	recordCmd.AddCommand(recordRollbackCmd)
	recordCmd.AddCommand(recordDenialCmd)

	recordRunCmd.Flags().StringVar(&recordRunMode, "mode", "approval_gated", "Autonomy mode the run executed under")
	recordRunCmd.Flags().StringSliceVar(&recordRunCaps, "caps", nil, "Capabilities the run exercised")
	recordRunCmd.Flags().Float64Var(&recordRunCapRes, "capability-resolution", 1, "Fraction of required capabilities that resolved (0-1)")
	recordRunCmd.Flags().StringVar(&recordRunPolicy, "policy", "allow", "Policy simulation verdict: allow, require_approval, or deny")
	recordRunCmd.Flags().Float64Var(&recordRunSuccess, "success-rate", 0, "Historical success rate observed for the command (0-1)")
	recordRunCmd.Flags().IntVar(&recordRunsObserved, "runs", 0, "Number of runs the success rate was observed over")
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Feed execution outcomes back into the gate",
	Long:  "Records what actually happened after a command ran. Run outcomes\nrefresh confidence and trigger regression checks; rollbacks and denials\ncount toward the circuit breaker.",
}

var recordRunCmd = &cobra.Command{
	Use:   "run <fingerprint> <command>",
	Short: "Record a completed run and re-check for regression",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordRun,
}

var recordRollbackCmd = &cobra.Command{
	Use:   "rollback <fingerprint>",
	Short: "Record a rolled-back execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordRollback,
}

var recordDenialCmd = &cobra.Command{
	Use:   "denial <fingerprint>",
	Short: "Record an external policy denial",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordDenial,
}

func runRecordRun(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(recordRunMode)
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	check, err := rt.gate.RecordRun(cmd.Context(), args[0], args[1], mode, recordRunCaps, confidence.Features{
		CapabilityResolution:  recordRunCapRes,
		PolicySimulation:      recordRunPolicy,
		HistoricalSuccessRate: recordRunSuccess,
		RunsObserved:          recordRunsObserved,
	}, time.Now())
	if err != nil {
		return err
	}

	if check.Severity == confidence.SeverityNone {
		fmt.Printf("Recorded run for %s: no regression\n", args[0])
		return nil
	}
	fmt.Printf("Recorded run for %s: %s regression (delta %.1f)\n", args[0], check.Severity, check.Delta)
	if check.RequiresAck {
		fmt.Println("Auto-run is blocked until the regression is acknowledged (steward ack).")
	}
	return nil
}

func runRecordRollback(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.gate.RecordRollback(cmd.Context(), args[0], time.Now()); err != nil {
		return err
	}
	fmt.Printf("Recorded rollback for %s\n", args[0])
	return nil
}

func runRecordDenial(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.gate.RecordDenial(cmd.Context(), args[0], time.Now()); err != nil {
		return err
	}
	fmt.Printf("Recorded denial for %s\n", args[0])
	return nil
}
