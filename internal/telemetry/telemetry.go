// Package telemetry provides OpenTelemetry instrumentation for autosnap.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/yairfalse/autosnap/internal/config"
)

const instrumentationName = "github.com/yairfalse/autosnap"

// Provider owns the tracer and meter providers for one process and the
// backup instruments recorded through them.
type Provider struct {
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	registry *promclient.Registry
	meter    metric.Meter

	runDuration      metric.Float64Histogram
	snapshotsCreated metric.Int64Counter
	snapshotsDeleted metric.Int64Counter
	failures         metric.Int64Counter
	instancesVisited metric.Int64Counter
}

// NewProvider builds the providers and installs them as the otel globals.
// Metrics are always readable through Registry; OTLP export only happens
// when an endpoint is configured and the signal is enabled.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceOpts, err := traceOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := &Provider{registry: promclient.NewRegistry()}
	meterOpts, err := meterOptions(ctx, cfg, p.registry)
	if err != nil {
		return nil, err
	}

	p.traces = sdktrace.NewTracerProvider(append(traceOpts, sdktrace.WithResource(res))...)
	p.metrics = sdkmetric.NewMeterProvider(append(meterOpts, sdkmetric.WithResource(res))...)
	p.meter = p.metrics.Meter(instrumentationName)

	if err := p.initMetrics(); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	return p, nil
}

// traceOptions adds a batched OTLP exporter with ratio sampling when traces
// are enabled. Without it spans are created but never exported.
func traceOptions(ctx context.Context, cfg config.OTELConfig) ([]sdktrace.TracerProviderOption, error) {
	if !cfg.Traces.Enabled || cfg.Endpoint == "" {
		return nil, nil
	}

	grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))),
	}, nil
}

// meterOptions always attaches a Prometheus reader on registry and adds an
// OTLP push reader when metrics export is enabled.
func meterOptions(ctx context.Context, cfg config.OTELConfig, registry *promclient.Registry) ([]sdkmetric.Option, error) {
	scrape, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithReader(scrape)}

	if !cfg.Metrics.Enabled || cfg.Endpoint == "" {
		return opts, nil
	}

	grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp))), nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.runDuration, err = p.meter.Float64Histogram(
		"autosnap.run.duration",
		metric.WithDescription("Duration of backup runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration: %w", err)
	}

	p.snapshotsCreated, err = p.meter.Int64Counter(
		"autosnap.snapshots.created",
		metric.WithDescription("Snapshots created"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return fmt.Errorf("create snapshots_created: %w", err)
	}

	p.snapshotsDeleted, err = p.meter.Int64Counter(
		"autosnap.snapshots.deleted",
		metric.WithDescription("Expired snapshots deleted"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return fmt.Errorf("create snapshots_deleted: %w", err)
	}

	p.failures, err = p.meter.Int64Counter(
		"autosnap.failures",
		metric.WithDescription("Failed backup steps"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return fmt.Errorf("create failures: %w", err)
	}

	p.instancesVisited, err = p.meter.Int64Counter(
		"autosnap.instances.visited",
		metric.WithDescription("Instances selected for backup"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return fmt.Errorf("create instances_visited: %w", err)
	}

	return nil
}

// Registry returns the Prometheus registry backing the metrics endpoint.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// The Record methods are safe to call on a nil Provider so callers can run
// without telemetry.

// RecordRunDuration records how long a run took.
func (p *Provider) RecordRunDuration(ctx context.Context, status string, d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordSnapshotCreated counts a created snapshot.
func (p *Provider) RecordSnapshotCreated(ctx context.Context, region string) {
	if p == nil {
		return
	}
	p.snapshotsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cloud.region", region),
	))
}

// RecordSnapshotsDeleted counts deleted snapshots.
func (p *Provider) RecordSnapshotsDeleted(ctx context.Context, region string, count int) {
	if p == nil || count == 0 {
		return
	}
	p.snapshotsDeleted.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("cloud.region", region),
	))
}

// RecordFailure counts a failed step. kind is "config", "transient" or "permanent".
func (p *Provider) RecordFailure(ctx context.Context, region, step, kind string) {
	if p == nil {
		return
	}
	p.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cloud.region", region),
		attribute.String("step", step),
		attribute.String("error.type", kind),
	))
}

// RecordInstance counts an instance selected for backup.
func (p *Provider) RecordInstance(ctx context.Context, region string) {
	if p == nil {
		return
	}
	p.instancesVisited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cloud.region", region),
	))
}

// Shutdown flushes pending spans and metrics and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
