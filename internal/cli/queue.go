package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the ranked pending-work queue",
	Long:  "Orders outstanding work by priority: unacknowledged regressions first,\nthen pending approvals, then scheduled jobs due to run, then the rest.",
	RunE:  runQueue,
}

func runQueue(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := rt.jobs()
	if err != nil {
		return err
	}
	items, err := rt.gate.Queue(cmd.Context(), rt.sched, jobs, time.Now())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	fmt.Printf("%-3s %-14s %-8s %s\n", "#", "KIND", "CONF", "SUMMARY")
	for i, item := range items {
		fmt.Printf("%-3d %-14s %-8.1f %s\n", i+1, item.Kind, item.Confidence, item.Summary)
	}
	return nil
}
