package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/model"
)

var (
	defineCaps    []string
	defineAdapter string
	defineWrite   bool

	approveClassBy     string
	approveClassMin    float64
	approveClassMode   string
	revokeClassBy      string
	revokeClassMessage string
)

func init() {
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(delegateCmd)
	delegateCmd.AddCommand(delegateDefineCmd)
	delegateCmd.AddCommand(delegateApproveCmd)
	delegateCmd.AddCommand(delegateRevokeCmd)

	delegateDefineCmd.Flags().StringSliceVar(&defineCaps, "caps", nil, "Capabilities the class grants (e.g. notion.write)")
	delegateDefineCmd.Flags().StringVar(&defineAdapter, "adapter", "", "Adapter the class binds to")
	delegateDefineCmd.Flags().BoolVar(&defineWrite, "write", false, "Class covers write-capable commands")

	delegateApproveCmd.Flags().StringVar(&approveClassBy, "by", "operator", "Who approves")
	delegateApproveCmd.Flags().Float64Var(&approveClassMin, "confidence-min", 90, "Minimum effective confidence for auto-run")
	delegateApproveCmd.Flags().StringVar(&approveClassMode, "mode", string(model.ModeAutoRun), "Autonomy mode the approval grants")

	delegateRevokeCmd.Flags().StringVar(&revokeClassBy, "by", "operator", "Who revokes")
	delegateRevokeCmd.Flags().StringVar(&revokeClassMessage, "reason", "revoked by operator", "Revocation reason")
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List delegated classes with status",
	RunE:  runClasses,
}

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Manage delegated command classes",
	Long:  "Defines, approves, and revokes delegated classes. A class alone never\ngrants execution: a promotion record and live confidence are required too.",
}

var delegateDefineCmd = &cobra.Command{
	Use:   "define <class-id> <pattern>",
	Short: "Define (or re-version) a delegated class",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelegateDefine,
}

var delegateApproveCmd = &cobra.Command{
	Use:   "approve <class-id>",
	Short: "Approve a delegated class",
	Long:  "Appends an approval event. Required to reactivate a class after any\nrevocation, including auto-suspension on regression.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelegateApprove,
}

var delegateRevokeCmd = &cobra.Command{
	Use:   "revoke <class-id>",
	Short: "Revoke a delegated class",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelegateRevoke,
}

func runClasses(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	statuses, err := rt.gate.Supervisor().Classes(cmd.Context())
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("No delegated classes defined.")
		return nil
	}

	fmt.Printf("%-26s %-9s %-34s %s\n", "CLASS", "ACTIVE", "PATTERN", "LAST EVENT")
	for _, st := range statuses {
		last := "-"
		if st.LastEvent != nil {
			last = fmt.Sprintf("%s by %s", st.LastEvent.Type, st.LastEvent.By)
			if st.LastEvent.Reason != "" {
				last += " (" + st.LastEvent.Reason + ")"
			}
		}
		fmt.Printf("%-26s %-9t %-34s %s\n",
			st.Definition.ClassID, st.Active, truncate(st.Definition.Pattern, 34), last)
	}
	return nil
}

func runDelegateDefine(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	def, err := rt.gate.Supervisor().DefineClass(cmd.Context(), delegation.ClassDefinition{
		ClassID:      args[0],
		Pattern:      args[1],
		Capabilities: defineCaps,
		Adapter:      defineAdapter,
		Write:        defineWrite,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Defined class %s (version %d)\n", def.ClassID, def.Seq)
	return nil
}

func runDelegateApprove(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(approveClassMode)
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ev, err := rt.gate.Supervisor().ApproveClass(cmd.Context(), args[0], approveClassBy, delegation.Scope{
		AutonomyMode:  mode,
		ConfidenceMin: approveClassMin,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Approved class %s (confidence_min %.0f, mode %s)\n", ev.ClassID, approveClassMin, mode)
	return nil
}

func runDelegateRevoke(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ev, err := rt.gate.Supervisor().RevokeClass(cmd.Context(), args[0], revokeClassBy, revokeClassMessage, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Revoked class %s: %s\n", ev.ClassID, ev.Reason)
	return nil
}
