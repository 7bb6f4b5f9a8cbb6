package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleExplainCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and run recurring jobs",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured jobs",
	RunE:  runScheduleList,
}

var scheduleExplainCmd = &cobra.Command{
	Use:   "explain <job-id>",
	Short: "Show whether a job's current window would run now",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleExplain,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job's current window once",
	Long:  "Claims the job's current window and submits its command through the\ngate. A window that already ran is skipped; two invocations inside one\nwindow never both execute.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRun,
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := rt.jobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Printf("No jobs configured (looked in %s).\n", rt.cfg.JobsPath)
		return nil
	}

	fmt.Printf("%-20s %-20s %-16s %s\n", "JOB", "SCHEDULE", "MODE", "COMMAND")
	for _, j := range jobs {
		fmt.Printf("%-20s %-20s %-16s %s\n", j.JobID, j.Schedule, j.Mode, truncate(j.Command, 40))
	}
	return nil
}

func runScheduleExplain(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.job(args[0])
	if err != nil {
		return err
	}
	ex, err := rt.sched.Explain(cmd.Context(), job, time.Now())
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(ex, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	job, err := rt.job(args[0])
	if err != nil {
		return err
	}

	entry, err := runJobWindow(cmd.Context(), rt, job, time.Now())
	if entry.Outcome == "" && err != nil {
		return err
	}
	fmt.Printf("Job %s window %s: %s\n", entry.JobID, entry.WindowID, entry.Outcome)
	if err != nil {
		fmt.Printf("run error: %v\n", err)
	}
	return nil
}

// runJobWindow claims the current window and pushes the job's command
// through the gate. The gate outcome decides whether anything may execute;
// a throttled or denied outcome fails the window.
func runJobWindow(ctx context.Context, rt *runtime, job scheduler.Job, now time.Time) (scheduler.HistoryEntry, error) {
	return rt.sched.RunOnce(ctx, job, now, func(ctx context.Context) error {
		out, err := rt.gate.Submit(ctx, model.Command{Text: job.Command}, &model.ExecutionPlan{
			Goal: job.Command,
			Steps: []model.PlanStep{
				{StepID: "s1", Action: "scheduled", ReadOnly: job.Mode == model.ModeReadOnly},
			},
		}, job.Mode, now)
		if err != nil {
			return err
		}
		switch out.Kind {
		case model.OutcomeThrottled:
			return fmt.Errorf("throttled: %s", out.Throttle.Code)
		case model.OutcomeDenied:
			return fmt.Errorf("denied: %s", out.Reason)
		}
		return nil
	})
}
