// Package server runs the long-lived steward daemon: a scheduler tick
// loop that fires due job windows through the gate, plus hot reload of
// the config and jobs files.
package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steward-sh/steward/internal/approval"
	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/gate"
	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/model"
	"github.com/steward-sh/steward/internal/scheduler"
	"github.com/steward-sh/steward/internal/store"
)

// Options configure a Server.
type Options struct {
	ConfigPath   string
	TickInterval time.Duration
	Logger       *zap.Logger

	// Env overrides paths from the config file.
	Env config.ServeEnv
}

// Server owns the store and ledger for its lifetime and rebuilds the
// gate and job list when Reload is called.
type Server struct {
	log        *zap.Logger
	configPath string
	env        config.ServeEnv
	tick       time.Duration

	store store.Store
	led   *ledger.Ledger

	mu    sync.RWMutex
	cfg   *config.Config
	hash  string
	gate  *gate.Gate
	sched *scheduler.Evaluator
	jobs  []scheduler.Job
}

// New loads the config, opens the store and ledger, and builds the
// initial gate and job list.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	cfg, hash, err := config.LoadWithHash(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts.Env.Apply(cfg)
	st, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := &Server{
		log:        opts.Logger,
		configPath: opts.ConfigPath,
		env:        opts.Env,
		tick:       opts.TickInterval,
		store:      st,
		led:        led,
	}
	if err := s.rebuild(cfg, hash); err != nil {
		led.Close()
		st.Close()
		return nil, err
	}
	return s, nil
}

// rebuild swaps in a new gate, scheduler, and job list for cfg. The
// store and ledger are reused; only derived components change.
func (s *Server) rebuild(cfg *config.Config, hash string) error {
	gov := governor.New(s.store, cfg.GovernorParams())
	conf := confidence.New(s.store, cfg.HalfLife(), cfg.Confidence.PolicyVersion)
	sup := delegation.New(s.store, conf, s.led)
	appr := approval.New(s.store, s.led)
	g := gate.New(s.store, gov, conf, sup, appr, s.led, cfg.Thresholds())

	jobs, err := loadJobs(cfg.JobsPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.hash = hash
	s.gate = g
	s.sched = scheduler.New(s.store, s.led)
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

func loadJobs(path string) ([]scheduler.Job, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return scheduler.LoadJobs(path)
}

// Reload re-reads the config and jobs files and rebuilds the gate. A
// reload that fails leaves the previous configuration in place.
func (s *Server) Reload() error {
	cfg, hash, err := config.LoadWithHash(s.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	s.env.Apply(cfg)
	s.mu.RLock()
	prev := s.hash
	s.mu.RUnlock()
	if err := s.rebuild(cfg, hash); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if hash != prev {
		s.log.Info("config reloaded", zap.String("hash", hash))
	}
	return nil
}

// Gate returns the current gate. Callers must not cache it across
// reloads.
func (s *Server) Gate() *gate.Gate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gate
}

// Jobs returns the current job list.
func (s *Server) Jobs() []scheduler.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs
}

// WatchPaths returns the files the reloader should watch.
func (s *Server) WatchPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := []string{s.configPath}
	if s.cfg.JobsPath != "" {
		paths = append(paths, s.cfg.JobsPath)
	}
	return paths
}

// Run drives the scheduler loop until ctx is cancelled. Each tick it
// evaluates every job and fires windows that have not run yet.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("steward serving",
		zap.String("config", s.configPath),
		zap.Duration("tick", s.tick))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Evaluate once at startup so a window due before the first tick
	// is not missed.
	s.runDue(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("steward stopping")
			return ctx.Err()
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Server) runDue(ctx context.Context, now time.Time) {
	s.mu.RLock()
	g := s.gate
	sched := s.sched
	jobs := s.jobs
	s.mu.RUnlock()

	for _, job := range jobs {
		job := job
		windowID, windowStart := sched.Window(job, now)
		due, err := sched.ShouldRun(ctx, job.JobID, windowID)
		if err != nil {
			s.log.Warn("window lookup failed", zap.String("job", job.JobID), zap.Error(err))
			continue
		}
		if !due {
			continue
		}
		entry, runErr := sched.RunOnce(ctx, job, now, func(runCtx context.Context) error {
			return s.runJob(runCtx, g, job, now)
		})
		switch {
		case runErr != nil && entry.Outcome == "":
			s.log.Warn("window claim failed", zap.String("job", job.JobID), zap.Error(runErr))
		case entry.Outcome == scheduler.OutcomeFailed:
			s.log.Warn("job window failed",
				zap.String("job", job.JobID),
				zap.String("window", windowID),
				zap.Time("window_start", windowStart),
				zap.Error(runErr))
		default:
			s.log.Info("job window finished",
				zap.String("job", job.JobID),
				zap.String("window", windowID),
				zap.String("outcome", string(entry.Outcome)))
		}
	}
}

// runJob pushes a job's command through the gate. An approval filed
// for the window still counts as a successful run; only throttles and
// denials fail it.
func (s *Server) runJob(ctx context.Context, g *gate.Gate, job scheduler.Job, now time.Time) error {
	cmd := model.Command{Text: job.Command}
	plan := &model.ExecutionPlan{
		Goal: job.Command,
		Steps: []model.PlanStep{
			{StepID: "s1", Action: "scheduled", ReadOnly: job.Mode == model.ModeReadOnly},
		},
	}
	out, err := g.Submit(ctx, cmd, plan, job.Mode, now)
	if err != nil {
		return err
	}
	switch out.Kind {
	case model.OutcomeThrottled:
		return fmt.Errorf("job %s throttled: %s", job.JobID, out.Reason)
	case model.OutcomeDenied:
		return fmt.Errorf("job %s denied: %s", job.JobID, out.Reason)
	}
	s.log.Info("job submitted",
		zap.String("job", job.JobID),
		zap.String("decision", string(out.Kind)),
		zap.String("execution_id", out.ExecutionID))
	return nil
}

// Close releases the store and ledger.
func (s *Server) Close() error {
	if err := s.led.Close(); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}
