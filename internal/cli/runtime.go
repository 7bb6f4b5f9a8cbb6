package cli

import (
	"fmt"
	"os"

	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/gate"
	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/scheduler"
	"github.com/steward-sh/steward/internal/store"

	"github.com/steward-sh/steward/internal/approval"
	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/delegation"
)

// runtime wires config, store, ledger, and the gate for one CLI
// invocation.
type runtime struct {
	cfg        *config.Config
	configHash string
	store      store.Store
	ledger     *ledger.Ledger
	gate       *gate.Gate
	sched      *scheduler.Evaluator
}

func openRuntime() (*runtime, error) {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	gov := governor.New(st, cfg.GovernorParams())
	conf := confidence.New(st, cfg.HalfLife(), cfg.Confidence.PolicyVersion)
	sup := delegation.New(st, conf, led)
	appr := approval.New(st, led)

	return &runtime{
		cfg:        cfg,
		configHash: hash,
		store:      st,
		ledger:     led,
		gate:       gate.New(st, gov, conf, sup, appr, led, cfg.Thresholds()),
		sched:      scheduler.New(st, led),
	}, nil
}

func (r *runtime) Close() {
	r.ledger.Close()
	r.store.Close()
}

// jobs loads the configured recurring jobs; a missing file is an empty
// list, not an error.
func (r *runtime) jobs() ([]scheduler.Job, error) {
	if _, err := os.Stat(r.cfg.JobsPath); os.IsNotExist(err) {
		return nil, nil
	}
	return scheduler.LoadJobs(r.cfg.JobsPath)
}

func (r *runtime) job(jobID string) (scheduler.Job, error) {
	jobs, err := r.jobs()
	if err != nil {
		return scheduler.Job{}, err
	}
	for _, j := range jobs {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return scheduler.Job{}, fmt.Errorf("unknown job %q (looked in %s)", jobID, r.cfg.JobsPath)
}
