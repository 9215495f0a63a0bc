package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/config"
	"github.com/yairfalse/autosnap/internal/filter"
	"github.com/yairfalse/autosnap/internal/notify"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/internal/telemetry"
)

var errNoRegions = errors.New("no regions configured and no default region available")

// Runner executes one backup run across the configured regions and reports it.
type Runner struct {
	Factory plugin.Factory

	// DefaultRegion is used when the configuration names no regions.
	DefaultRegion func(ctx context.Context) (string, error)

	Notify  notify.Backends
	Clock   clock.Clock
	Logger  zerolog.Logger
	Metrics *telemetry.Provider
}

// Summary is the outcome of a run.
type Summary struct {
	RunID     string
	Regions   []RegionResult
	Instances int
	Volumes   int
	Created   int
	Deleted   int
	Failures  int
	Duration  time.Duration
	Entries   []runlog.Entry

	// Notifications counts report deliveries attempted. NotifyErr joins
	// their failures; it never fails the run.
	Notifications int
	NotifyErr     error
}

func (s *Summary) add(r RegionResult) {
	s.Regions = append(s.Regions, r)
	s.Instances += r.Instances
	s.Volumes += r.Volumes
	s.Created += r.Created
	s.Deleted += r.Deleted
	s.Failures += r.Failures
}

// Run backs up every region in cfg sequentially, then delivers the run log.
// Per-volume, per-instance and per-region failures are logged and counted
// in the Summary. The returned error is set only when no region could be
// resolved.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (Summary, error) {
	c := r.Clock
	if c == nil {
		c = clock.Real{}
	}
	start := c.Now()
	log := runlog.New(c, r.Logger)
	sum := Summary{RunID: log.RunID()}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "backup.Run",
		trace.WithAttributes(attribute.String("autosnap.run_id", sum.RunID)))
	defer span.End()

	log.Log("AWS snapshot backups starting")
	if cfg.DryRun {
		log.Log("Dry run: no snapshots will be created or deleted")
	}

	regions, runErr := r.regions(ctx, cfg)
	if runErr != nil {
		log.Errorf("Resolving regions failed: %v", runErr)
	} else {
		orch := NewOrchestrator(r.Factory, filter.New(cfg.EnabledTag, cfg.ExcludeTags), log, c, r.Metrics, Options{
			RetentionTag: cfg.RetentionTag,
			DryRun:       cfg.DryRun,
			StrictPrune:  cfg.StrictPrune,
		})
		for _, region := range regions {
			sum.add(orch.RunRegion(ctx, region, int(cfg.RetentionDays)))
		}
	}

	log.Logf("AWS snapshot backups completed: %d instances, %d volumes, %d snapshots created, %d deleted, %d failures",
		sum.Instances, sum.Volumes, sum.Created, sum.Deleted, sum.Failures)

	r.report(ctx, log, cfg, &sum)
	sum.Entries = log.Entries()
	sum.Duration = c.Now().Sub(start)

	status := "success"
	switch {
	case runErr != nil:
		status = "failure"
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	case sum.Failures > 0:
		status = "partial"
	}
	r.Metrics.RecordRunDuration(ctx, status, sum.Duration)

	log.Logger().Info().
		Int("instances", sum.Instances).
		Int("created", sum.Created).
		Int("deleted", sum.Deleted).
		Int("failures", sum.Failures).
		Dur("duration", sum.Duration).
		Str("status", status).
		Msg("run finished")

	return sum, runErr
}

func (r *Runner) regions(ctx context.Context, cfg *config.Config) ([]string, error) {
	if len(cfg.Regions) > 0 {
		return cfg.Regions, nil
	}
	if r.DefaultRegion == nil {
		return nil, errNoRegions
	}
	region, err := r.DefaultRegion(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve default region: %w", err)
	}
	if region == "" {
		return nil, errNoRegions
	}
	return []string{region}, nil
}

// report delivers the run log. Delivery failures are mirrored to the operator
// log only; the report has already been composed.
func (r *Runner) report(ctx context.Context, log *runlog.Log, cfg *config.Config, sum *Summary) {
	var errs []error

	sent, err := log.Flush(ctx, r.Notify.Email, cfg.EmailFrom, cfg.EmailTo)
	if sent {
		sum.Notifications++
	}
	if err != nil {
		errs = append(errs, err)
	}

	sent, err = log.Publish(ctx, r.Notify.Topic)
	if sent {
		sum.Notifications++
	}
	if err != nil {
		errs = append(errs, err)
	}

	sum.NotifyErr = errors.Join(errs...)
	if sum.NotifyErr != nil {
		log.Logger().Error().Err(sum.NotifyErr).Msg("report delivery failed")
	}
}
