package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/autosnap/internal/backup"
	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/config"
	"github.com/yairfalse/autosnap/internal/notify"
	"github.com/yairfalse/autosnap/internal/plugin"
	awsplugin "github.com/yairfalse/autosnap/internal/plugin/aws"
	"github.com/yairfalse/autosnap/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// loadConfig reads the config file when one is given and applies the
// global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if awsProfile != "" {
		cfg.AWS.Profile = awsProfile
	}
	return cfg, nil
}

// readPayload returns an inline JSON payload, or the contents of the file
// when s starts with "@".
func readPayload(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
	return []byte(s), nil
}

// newRunner wires the EC2 plugin and report backends for runs described by cfg.
// defaultRegion may be nil to use the SDK default region.
func newRunner(ctx context.Context, cfg *config.Config, metrics *telemetry.Provider, defaultRegion func(context.Context) (string, error)) (*backup.Runner, error) {
	plugin.Register(awsplugin.PluginName, awsplugin.Factory(awsplugin.Config{
		Profile:     cfg.AWS.Profile,
		CallTimeout: cfg.AWS.CallTimeout,
		MaxAttempts: cfg.AWS.MaxAttempts,
	}))
	factory, ok := plugin.Get(awsplugin.PluginName)
	if !ok {
		return nil, fmt.Errorf("plugin %q not registered", awsplugin.PluginName)
	}

	backends, err := notify.New(ctx, notify.Settings{
		Profile:     cfg.AWS.Profile,
		EmailFrom:   cfg.EmailFrom,
		EmailTo:     cfg.EmailTo,
		SNSTopicARN: cfg.SNSTopicARN,
	})
	if err != nil {
		return nil, fmt.Errorf("create notifiers: %w", err)
	}

	if defaultRegion == nil {
		profile := cfg.AWS.Profile
		defaultRegion = func(ctx context.Context) (string, error) {
			return awsplugin.DefaultRegion(ctx, profile)
		}
	}

	return &backup.Runner{
		Factory:       factory,
		DefaultRegion: defaultRegion,
		Notify:        backends,
		Clock:         clock.Real{},
		Logger:        log.Logger,
		Metrics:       metrics,
	}, nil
}

// newTelemetry returns nil when the provider cannot be built; runs proceed
// without metrics or traces.
func newTelemetry(ctx context.Context, cfg *config.Config) *telemetry.Provider {
	p, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled")
		return nil
	}
	return p
}

func shutdownTelemetry(p *telemetry.Provider) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown")
	}
}

func printSummary(w io.Writer, sum backup.Summary) {
	fmt.Fprintf(w, "Run %s finished in %s\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	for _, r := range sum.Regions {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "  %-16s instances=%d volumes=%d created=%d deleted=%d failures=%d  %s\n",
			r.Region, r.Instances, r.Volumes, r.Created, r.Deleted, r.Failures, status)
	}
	fmt.Fprintf(w, "Total: %d created, %d deleted, %d failures, %d reports sent\n",
		sum.Created, sum.Deleted, sum.Failures, sum.Notifications)
}
