package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List executions awaiting approval",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	pending, err := rt.gate.Approvals().Pending(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-38s %-40s %-6s %s\n", "EXECUTION", "GOAL", "STEPS", "CREATED")
	for _, rec := range pending {
		fmt.Printf("%-38s %-40s %-6d %s\n",
			rec.ExecutionID,
			truncate(rec.Plan.Goal, 40),
			len(rec.Plan.Steps),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
