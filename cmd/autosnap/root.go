package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
	awsProfile string

	rootCmd = &cobra.Command{
		Use:   "autosnap",
		Short: "EC2 volume snapshot backups",
		Long: `autosnap - EC2 volume snapshot backups

autosnap snapshots every volume attached to running EC2 instances tagged
ec2_backup_enabled=true, tags each snapshot with a parseable description,
and deletes its own snapshots once they are older than the retention window.

Retention defaults to 2 days and can be overridden per instance with the
ec2_backup_count tag. Snapshots it did not create are never deleted.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`autosnap {{.Version}} - EC2 volume snapshot backups
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&awsProfile, "profile", "", "AWS shared config profile; overrides config")
}

// setupLogging configures the global zerolog logger. Structured output is
// used where a log collector reads stderr (Lambda).
func setupLogging(level string, structured bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if structured {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
