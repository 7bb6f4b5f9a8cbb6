package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <execution-id> <plan-hash>",
	Short: "Approve a pending execution",
	Long:  "Approves an awaiting execution. The plan hash must match the hash frozen\nat submission byte-for-byte; an edited plan can never reuse an approval.",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <execution-id> [reason]",
	Short: "Reject a pending execution",
	Long:  "Rejects an awaiting execution. Terminal: the execution id cannot be retried.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runReject,
}

func runApprove(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.gate.Approvals().Approve(cmd.Context(), args[0], args[1], time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Approved %s (plan %s)\n", rec.ExecutionID, rec.PlanHash)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	reason := "rejected by operator"
	if len(args) == 2 {
		reason = args[1]
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.gate.Approvals().Reject(cmd.Context(), args[0], reason, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Rejected %s: %s\n", rec.ExecutionID, rec.Reason)
	return nil
}
