package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/model"
)

var (
	promoteCaps    []string
	promoteAdapter string
	promoteAvg     float64
	promoteRuns    int
	promoteFrom    string
	promoteTo      string
)

func init() {
	rootCmd.AddCommand(promoteCmd)
	promoteCmd.Flags().StringSliceVar(&promoteCaps, "caps", nil, "Capability set the promotion covers")
	promoteCmd.Flags().StringVar(&promoteAdapter, "adapter", "", "Adapter type")
	promoteCmd.Flags().Float64Var(&promoteAvg, "confidence-avg", 0, "Observed average confidence")
	promoteCmd.Flags().IntVar(&promoteRuns, "runs", 0, "Observed run count")
	promoteCmd.Flags().StringVar(&promoteFrom, "from", string(model.ModeApprovalGated), "Previous autonomy mode")
	promoteCmd.Flags().StringVar(&promoteTo, "to", string(model.ModeAutoRun), "New autonomy mode")
}

var promoteCmd = &cobra.Command{
	Use:   "promote <command text>",
	Short: "Record that a command earned autonomous execution",
	Long:  "Writes a promotion record keyed by the command, capability set, and\nadapter. Delegated auto-run requires this record on top of an approved\nclass; delegation alone never substitutes for demonstrated reliability.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromote,
}

func runPromote(cmd *cobra.Command, args []string) error {
	from, err := parseMode(promoteFrom)
	if err != nil {
		return err
	}
	to, err := parseMode(promoteTo)
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.gate.Supervisor().Promote(cmd.Context(), args[0], promoteCaps, promoteAdapter, delegation.PromotionCriteria{
		ConfidenceAvg: promoteAvg,
		RunsObserved:  promoteRuns,
	}, from, to, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Promoted %q (%s -> %s)\nfingerprint: %s\n", rec.Command, rec.PreviousMode, rec.NewMode, rec.Fingerprint)
	return nil
}
