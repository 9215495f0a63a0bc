package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds scheduler metrics using OTEL semantic conventions
type DaemonMetrics struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	skipped     metric.Int64Counter
	lastSuccess metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("autosnap.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	runs, err := meter.Int64Counter(
		"autosnap.daemon.runs",
		metric.WithDescription("Number of scheduled backup runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"autosnap.daemon.run.duration",
		metric.WithDescription("Duration of scheduled backup runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter(
		"autosnap.daemon.runs.skipped",
		metric.WithDescription("Scheduled runs skipped because the previous run was still going"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccess, err := meter.Int64Gauge(
		"autosnap.daemon.last_success",
		metric.WithDescription("Unix time of the last run without errors"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		runs:        runs,
		runDuration: runDuration,
		skipped:     skipped,
		lastSuccess: lastSuccess,
	}, nil
}

// RecordRun records a finished run with its status
func (m *DaemonMetrics) RecordRun(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationSeconds, attrs)
}

// RecordSkipped records a run that was not started
func (m *DaemonMetrics) RecordSkipped(ctx context.Context) {
	m.skipped.Add(ctx, 1)
}

// RecordSuccess stores the time of the last successful run
func (m *DaemonMetrics) RecordSuccess(ctx context.Context, unixSeconds int64) {
	m.lastSuccess.Record(ctx, unixSeconds)
}
