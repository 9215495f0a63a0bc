package backup

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/filter"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/internal/telemetry"
	"github.com/yairfalse/autosnap/pkg/resource"
)

const tracerName = "github.com/yairfalse/autosnap/internal/backup"

// Options tune a run.
type Options struct {
	RetentionTag string // per-instance retention override tag
	DryRun       bool
	StrictPrune  bool
}

// RegionResult counts what happened in one region.
type RegionResult struct {
	Region    string
	Instances int
	Volumes   int
	Created   int
	Deleted   int
	Failures  int
	Err       error // set when the region could not be processed at all
}

// Orchestrator drives instance selection, snapshot creation and pruning for
// one region at a time. Instances and volumes are processed sequentially in
// provider order.
type Orchestrator struct {
	factory plugin.Factory
	filter  *filter.Filter
	log     *runlog.Log
	clock   clock.Clock
	metrics *telemetry.Provider
	opts    Options
	tracer  trace.Tracer
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(factory plugin.Factory, f *filter.Filter, log *runlog.Log, c clock.Clock, metrics *telemetry.Provider, opts Options) *Orchestrator {
	if opts.RetentionTag == "" {
		opts.RetentionTag = DefaultRetentionTag
	}
	return &Orchestrator{
		factory: factory,
		filter:  f,
		log:     log,
		clock:   c,
		metrics: metrics,
		opts:    opts,
		tracer:  otel.Tracer(tracerName),
	}
}

// RunRegion backs up every eligible instance in region. Failures are logged
// and counted; only a failure to reach the region at all sets Err.
func (o *Orchestrator) RunRegion(ctx context.Context, region string, defaultRetentionDays int) RegionResult {
	ctx, span := o.tracer.Start(ctx, "backup.RunRegion",
		trace.WithAttributes(attribute.String("cloud.region", region)))
	defer span.End()

	res := RegionResult{Region: region}
	o.log.Logf("Region: %s", region)

	p, err := o.factory(ctx, region)
	if err != nil {
		res.Err = fmt.Errorf("connect region %s: %w", region, err)
		o.regionFailed(ctx, span, &res)
		return res
	}

	instances, err := p.ListInstances(ctx, o.filter.Query())
	if err != nil {
		res.Err = fmt.Errorf("list instances in %s: %w", region, err)
		o.regionFailed(ctx, span, &res)
		return res
	}

	w := &regionWork{
		Orchestrator: o,
		provider:     p,
		creator:      NewCreator(p, o.log, o.clock, o.opts.DryRun),
		pruner:       NewPruner(p, o.log, o.clock, o.opts.DryRun, o.opts.StrictPrune),
		res:          &res,
	}
	for _, i := range o.filter.Instances(instances) {
		w.instance(ctx, i, defaultRetentionDays)
	}

	span.SetAttributes(
		attribute.Int("autosnap.instances", res.Instances),
		attribute.Int("autosnap.created", res.Created),
		attribute.Int("autosnap.deleted", res.Deleted),
		attribute.Int("autosnap.failures", res.Failures),
	)
	if res.Failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failures", res.Failures))
	}
	return res
}

func (o *Orchestrator) regionFailed(ctx context.Context, span trace.Span, res *RegionResult) {
	res.Failures++
	kind := Kind(res.Err)
	o.log.Errorf("Region %s failed (%s): %v", res.Region, kind, res.Err)
	o.metrics.RecordFailure(ctx, res.Region, "region", kind)
	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())
}

// regionWork carries the per-region collaborators through one region's instances.
type regionWork struct {
	*Orchestrator
	provider plugin.Plugin
	creator  *Creator
	pruner   *Pruner
	res      *RegionResult
}

func (w *regionWork) instance(ctx context.Context, i resource.Instance, defaultRetentionDays int) {
	ctx, span := w.tracer.Start(ctx, "backup.Instance",
		trace.WithAttributes(attribute.String("instance.id", i.ID)))
	defer span.End()

	name, err := ResolveName(i)
	if err != nil {
		w.fail(ctx, span, "instance", fmt.Sprintf("Skipping instance %s", i.ID), err)
		return
	}
	days, err := ResolveRetention(i, w.opts.RetentionTag, defaultRetentionDays)
	if err != nil {
		w.fail(ctx, span, "instance", fmt.Sprintf("Skipping instance %s (%s)", name, i.ID), err)
		return
	}

	w.res.Instances++
	w.metrics.RecordInstance(ctx, w.res.Region)
	w.log.Logf("Instance name: %s, Instance ID: %s, Retention Period: %d days.", name, i.ID, days)

	volumes, err := w.provider.ListVolumes(ctx, i.ID)
	if err != nil {
		w.fail(ctx, span, "volumes", fmt.Sprintf("Listing volumes of %s (%s) failed", name, i.ID), err)
		return
	}

	for _, v := range volumes {
		w.volume(ctx, span, name, days, v)
	}

	w.log.Logf("Backup complete for instance %s (%s)", name, i.ID)
}

// volume creates then prunes. A failed create skips the prune so a volume is
// never thinned out without a fresh snapshot. The snapshot just created is
// never pruned, whatever the retention.
func (w *regionWork) volume(ctx context.Context, span trace.Span, instanceName string, days int, v resource.Volume) {
	w.res.Volumes++
	w.log.Logf("Volume found: %s", v.ID)

	snap, err := w.creator.Create(ctx, instanceName, v)
	var tagErr *TagError
	switch {
	case errors.As(err, &tagErr):
		w.fail(ctx, span, "tag", fmt.Sprintf("Tagging snapshot %s of volume %s failed", tagErr.SnapshotID, v.ID), err)
	case err != nil:
		w.fail(ctx, span, "create", fmt.Sprintf("Snapshot of volume %s failed", v.ID), err)
		return
	}
	w.res.Created++
	if !w.opts.DryRun {
		w.metrics.RecordSnapshotCreated(ctx, w.res.Region)
	}

	var keep []string
	if snap.ID != "" {
		keep = append(keep, snap.ID)
	}
	deleted, err := w.pruner.Prune(ctx, days, instanceName, v, keep...)
	w.res.Deleted += deleted
	if !w.opts.DryRun {
		w.metrics.RecordSnapshotsDeleted(ctx, w.res.Region, deleted)
	}
	if err != nil {
		w.fail(ctx, span, "prune", fmt.Sprintf("Pruning volume %s failed", v.ID), err)
	}
}

func (w *regionWork) fail(ctx context.Context, span trace.Span, step, what string, err error) {
	w.res.Failures++
	kind := Kind(err)
	w.log.Errorf("%s (%s): %v", what, kind, err)
	w.metrics.RecordFailure(ctx, w.res.Region, step, kind)
	span.RecordError(err, trace.WithAttributes(attribute.String("step", step)))
}
