package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/scheduler"
	"github.com/steward-sh/steward/internal/store"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, store, and ledger readiness",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		checks = append(checks, checkResult{label: "config", detail: err.Error()})
		printChecks(checks)
		os.Exit(1)
	}
	checks = append(checks, checkResult{label: "config", ok: true, detail: hash})

	if err := cfg.Validate(); err != nil {
		checks = append(checks, checkResult{label: "config values", detail: err.Error()})
	} else {
		checks = append(checks, checkResult{label: "config values", ok: true,
			detail: fmt.Sprintf("governor %g/%g/%g, half-life %s", cfg.Governor.Capacity, cfg.Governor.RefillPerMinute, cfg.Governor.CostPerRun, cfg.Confidence.HalfLife)})
	}

	if st, err := store.OpenSQLite(cfg.StorePath); err != nil {
		checks = append(checks, checkResult{label: "store", detail: err.Error()})
	} else {
		st.Close()
		checks = append(checks, checkResult{label: "store", ok: true, detail: cfg.StorePath})
	}

	if _, err := os.Stat(cfg.LedgerPath); os.IsNotExist(err) {
		checks = append(checks, checkResult{label: "ledger", ok: true, detail: cfg.LedgerPath + " (not created yet)"})
	} else if res := ledger.Verify(cfg.LedgerPath); res.Valid {
		checks = append(checks, checkResult{label: "ledger", ok: true,
			detail: fmt.Sprintf("%s (%d receipts, chain intact)", cfg.LedgerPath, res.Lines)})
	} else {
		checks = append(checks, checkResult{label: "ledger",
			detail: fmt.Sprintf("chain broken at line %d: %s", res.ErrorLine, res.Error)})
	}

	if _, err := os.Stat(cfg.JobsPath); os.IsNotExist(err) {
		checks = append(checks, checkResult{label: "jobs", ok: true, detail: cfg.JobsPath + " (none configured)"})
	} else if jobs, err := scheduler.LoadJobs(cfg.JobsPath); err != nil {
		checks = append(checks, checkResult{label: "jobs", detail: err.Error()})
	} else {
		checks = append(checks, checkResult{label: "jobs", ok: true,
			detail: fmt.Sprintf("%s (%d jobs)", cfg.JobsPath, len(jobs))})
	}

	failed := printChecks(checks)
	if failed {
		os.Exit(1)
	}
	return nil
}

func printChecks(checks []checkResult) (failed bool) {
	for _, c := range checks {
		mark := "ok"
		if !c.ok {
			mark = "FAIL"
			failed = true
		}
		fmt.Printf("[%-4s] %-14s %s\n", mark, c.label, c.detail)
	}
	return failed
}
