package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/autosnap/internal/daemon"
)

var (
	daemonSchedule    string
	daemonMetricsAddr string
	daemonRunNow      bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run backups on a cron schedule",
	Long: `Run autosnap as a long-lived process that triggers a backup run on a
cron schedule, for hosts without an external scheduler.

Features:
- Standard 5-field cron expressions and descriptors (@daily, @every 6h)
- Overlapping runs are skipped, never queued
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  autosnap daemon --schedule "0 3 * * *"          # Daily at 03:00
  autosnap daemon --schedule @every 6h --run-now
  autosnap daemon -c /etc/autosnap.yaml --metrics-addr :2112`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron schedule; overrides config")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP server address; overrides config")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", false, "Run once immediately on start")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, false)

	if cmd.Flags().Changed("schedule") {
		cfg.Daemon.Schedule = daemonSchedule
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	if cfg.Daemon.Schedule == "" {
		return fmt.Errorf("a schedule is required: set daemon.schedule or --schedule")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := newTelemetry(ctx, cfg)
	defer shutdownTelemetry(metrics)

	var gatherer prometheus.Gatherer
	if metrics != nil {
		gatherer = metrics.Registry()
	}

	runner, err := newRunner(ctx, cfg, metrics, nil)
	if err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		_, err := runner.Run(ctx, cfg)
		return err
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Schedule:    cfg.Daemon.Schedule,
		MetricsAddr: cfg.Daemon.MetricsAddr,
		Gatherer:    gatherer,
	}, job, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	log.Info().
		Str("schedule", cfg.Daemon.Schedule).
		Str("metrics_addr", cfg.Daemon.MetricsAddr).
		Strs("regions", cfg.Regions).
		Int("retention_days", int(cfg.RetentionDays)).
		Bool("dry_run", cfg.DryRun).
		Msg("autosnap daemon starting")

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	g.Add(func() error {
		if daemonRunNow {
			d.Trigger(ctx)
		}
		return d.Run(ctx)
	}, func(error) {
		cancel()
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info().Str("signal", sig.Signal.String()).Msg("autosnap daemon stopped")
		return nil
	}
	return err
}
