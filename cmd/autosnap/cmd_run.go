package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/autosnap/internal/config"
)

var (
	runRegions       []string
	runRetentionDays int
	runEmailFrom     string
	runEmailTo       string
	runSNSTopicARN   string
	runDryRun        bool
	runStrictPrune   bool
	runPayload       string
	runFailOnError   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup pass and exit",
	Long: `Run one backup pass across the configured regions and exit.

Options come from the config file, then the JSON payload, then flags, each
overriding the previous. The payload accepts the same keys as the Lambda
event: regions, retention_days, email_from, email_to, sns_topic_arn,
dry_run, strict_prune.`,
	Example: `  autosnap run                                   # Default region, 2 day retention
  autosnap run --region us-west-1 --region us-east-1
  autosnap run --retention-days 7 --dry-run      # Show what would change
  autosnap run --payload '{"regions":["eu-west-1"],"retention_days":"5"}'
  autosnap run --payload @event.json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runRegions, "region", nil, "Region to back up (repeatable)")
	runCmd.Flags().IntVar(&runRetentionDays, "retention-days", 0, "Default retention in days")
	runCmd.Flags().StringVar(&runEmailFrom, "email-from", "", "Report sender address")
	runCmd.Flags().StringVar(&runEmailTo, "email-to", "", "Report recipient address")
	runCmd.Flags().StringVar(&runSNSTopicARN, "sns-topic-arn", "", "SNS topic for the report")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log actions without creating or deleting snapshots")
	runCmd.Flags().BoolVar(&runStrictPrune, "strict-prune", false, "Only prune snapshots whose description names the instance and volume")
	runCmd.Flags().StringVar(&runPayload, "payload", "", "JSON payload, or @file")
	runCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "Exit non-zero when any backup step failed")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, false)

	raw, err := readPayload(runPayload)
	if err != nil {
		return err
	}
	if err := cfg.ApplyPayload(raw); err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := newTelemetry(ctx, cfg)
	defer shutdownTelemetry(metrics)

	runner, err := newRunner(ctx, cfg, metrics, nil)
	if err != nil {
		return err
	}

	sum, err := runner.Run(ctx, cfg)
	printSummary(cmd.OutOrStdout(), sum)
	if err != nil {
		return err
	}
	if runFailOnError && sum.Failures > 0 {
		return fmt.Errorf("%d backup steps failed", sum.Failures)
	}
	return nil
}

// applyRunFlags overrides cfg with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.Regions = runRegions
	}
	if flags.Changed("retention-days") {
		cfg.RetentionDays = config.Days(runRetentionDays)
	}
	if flags.Changed("email-from") {
		cfg.EmailFrom = runEmailFrom
	}
	if flags.Changed("email-to") {
		cfg.EmailTo = runEmailTo
	}
	if flags.Changed("sns-topic-arn") {
		cfg.SNSTopicARN = runSNSTopicARN
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = runDryRun
	}
	if flags.Changed("strict-prune") {
		cfg.StrictPrune = runStrictPrune
	}
}
