package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/yairfalse/autosnap/internal/config"
)

func disabledConfig() config.OTELConfig {
	return config.OTELConfig{
		ServiceName: "test-autosnap",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Registry())

	err = p.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-autosnap",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// Provider setup should succeed even without a real collector
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Shutdown may fail due to no collector
	_ = p.Shutdown(ctx)
}

func TestNewProvider_InstallsGlobals(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	assert.Same(t, p.traces, otel.GetTracerProvider())
	assert.Same(t, p.metrics, otel.GetMeterProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "test-operation")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestProvider_RecordsReachRegistry(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	p.RecordSnapshotCreated(ctx, "us-west-1")
	p.RecordSnapshotCreated(ctx, "us-west-1")
	p.RecordSnapshotsDeleted(ctx, "us-west-1", 3)
	p.RecordFailure(ctx, "us-west-1", "create", "transient")
	p.RecordInstance(ctx, "us-west-1")
	p.RecordRunDuration(ctx, "success", 2*time.Second)

	families, err := p.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, " ")

	assert.Contains(t, joined, "autosnap_snapshots_created")
	assert.Contains(t, joined, "autosnap_snapshots_deleted")
	assert.Contains(t, joined, "autosnap_failures")
	assert.Contains(t, joined, "autosnap_instances_visited")
	assert.Contains(t, joined, "autosnap_run_duration")
}

func TestProvider_NilIsNoop(t *testing.T) {
	var p *Provider
	ctx := context.Background()

	assert.NotPanics(t, func() {
		p.RecordSnapshotCreated(ctx, "us-east-1")
		p.RecordSnapshotsDeleted(ctx, "us-east-1", 1)
		p.RecordFailure(ctx, "us-east-1", "prune", "permanent")
		p.RecordInstance(ctx, "us-east-1")
		p.RecordRunDuration(ctx, "failure", time.Second)
		assert.NoError(t, p.Shutdown(ctx))
	})
}
