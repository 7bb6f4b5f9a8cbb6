package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/model"
)

var (
	submitScope  string
	submitThread string
	submitMode   string
	submitPlan   string
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitScope, "scope", "", "Domain scope for the command fingerprint")
	submitCmd.Flags().StringVar(&submitThread, "thread", "", "Thread id the command belongs to")
	submitCmd.Flags().StringVar(&submitMode, "mode", string(model.ModeApprovalGated), "Autonomy mode: read_only | propose_only | approval_gated | auto_run")
	submitCmd.Flags().StringVar(&submitPlan, "plan", "", "Path to an ExecutionPlan JSON file (default: single read-only step)")
}

var submitCmd = &cobra.Command{
	Use:   "submit <command text>",
	Short: "Run one command through the governance gate",
	Long:  "Evaluates a normalized command against the governor, confidence,\ndelegation, and approval layers, records a receipt, and prints the\ntyped outcome.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func parseMode(s string) (model.AutonomyMode, error) {
	switch model.AutonomyMode(s) {
	case model.ModeReadOnly, model.ModeProposeOnly, model.ModeApprovalGated, model.ModeAutoRun:
		return model.AutonomyMode(s), nil
	}
	return "", fmt.Errorf("unknown autonomy mode %q", s)
}

func loadPlan(path, commandText string) (*model.ExecutionPlan, error) {
	if path == "" {
		return &model.ExecutionPlan{
			Goal: commandText,
			Steps: []model.PlanStep{
				{StepID: "s1", Action: "evaluate", ReadOnly: true},
			},
		}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan model.ExecutionPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return &plan, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(submitMode)
	if err != nil {
		return err
	}
	plan, err := loadPlan(submitPlan, args[0])
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.gate.Submit(cmd.Context(), model.Command{
		Text:        args[0],
		DomainScope: submitScope,
		ThreadID:    submitThread,
	}, plan, mode, time.Now())
	if err != nil {
		return err
	}

	view := map[string]any{
		"outcome":      out.Kind,
		"execution_id": out.ExecutionID,
		"fingerprint":  out.Fingerprint,
		"reason":       out.Reason,
	}
	if out.Throttle != nil {
		view["retry_at"] = out.Throttle.RetryAt.Format(time.RFC3339)
		view["throttle_code"] = out.Throttle.Code
	}
	if out.Approval != nil {
		view["plan_hash"] = out.Approval.PlanHash
	}
	if out.Confidence.Found {
		view["confidence"] = fmt.Sprintf("%.1f", out.Confidence.Decayed)
	}

	rendered, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(rendered))
	return nil
}
