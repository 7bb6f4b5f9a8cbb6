package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the steward daemon",
	Long: "Runs steward as a long-lived daemon: scheduled jobs are fired\n" +
		"through the gate on their windows, and the config and jobs files\n" +
		"are hot-reloaded on change.\n\n" +
		"Environment overrides: STEWARD_CONFIG, STEWARD_STORE,\n" +
		"STEWARD_LEDGER, STEWARD_JOBS, STEWARD_TICK_INTERVAL,\n" +
		"STEWARD_LOG_LEVEL.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := config.LoadServeEnv()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	path := configPath
	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		path = config.DefaultPath()
	}

	log, err := newLogger(env.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := server.New(server.Options{
		ConfigPath:   path,
		TickInterval: env.TickInterval,
		Logger:       log,
		Env:          env,
	})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloader, err := server.NewReloader(srv.WatchPaths(), log, srv.Reload)
	if err != nil {
		log.Warn("hot-reload disabled", zap.Error(err))
	} else {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
