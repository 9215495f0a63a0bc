package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/config"
	"github.com/yairfalse/autosnap/internal/filter"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/plugin/fake"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/internal/telemetry"
	"github.com/yairfalse/autosnap/pkg/resource"
)

func newOrchestrator(p *fake.Plugin, c clock.Clock, log *runlog.Log, opts Options) *Orchestrator {
	return NewOrchestrator(factoryFor(p), filter.New("", nil), log, c, nil, opts)
}

// ═══════════════════════════════════════════════════════════════════════════
// End to end
// ═══════════════════════════════════════════════════════════════════════════

func TestRunRegion_Scenario(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-web1", "web1", tag("ec2_backup_count", "3")))
	p.AddVolume(volume("vol-a", "i-web1"))
	p.AddVolume(volume("vol-b", "i-web1"))
	p.AddSnapshot(managedSnapshot("snap-old-a", "vol-a", "web1", 4*day))
	p.AddSnapshot(managedSnapshot("snap-recent-a", "vol-a", "web1", 2*day))
	p.AddSnapshot(foreignSnapshot("snap-manual-a", "vol-a", "before upgrade", 30*day))
	p.AddSnapshot(managedSnapshot("snap-edge-b", "vol-b", "web1", 3*day))
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 7)

	require.NoError(t, res.Err)
	assert.Equal(t, RegionResult{
		Region:    "us-west-1",
		Instances: 1,
		Volumes:   2,
		Created:   2,
		Deleted:   1,
	}, res)

	assert.Equal(t, []string{
		"Region: us-west-1",
		"Instance name: web1, Instance ID: i-web1, Retention Period: 3 days.",
		"Volume found: vol-a",
		"Snapshot created with description [autosnap-web1.vol-a-20240309-120000]",
		"Deleting snapshot [snap-old-a - autosnap-web1.vol-a-20240305-120000] created [2024-03-05T12:00:00Z]",
		"Volume found: vol-b",
		"Snapshot created with description [autosnap-web1.vol-b-20240309-120000]",
		"Backup complete for instance web1 (i-web1)",
	}, messages(log.Entries()))

	assert.Equal(t, []string{"snap-recent-a", "snap-manual-a", "snap-0001"}, snapshotIDs(p.Snapshots("vol-a")))
	assert.Equal(t, []string{"snap-edge-b", "snap-0002"}, snapshotIDs(p.Snapshots("vol-b")))
}

func TestRunRegion_CallOrder(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-2", "second"))
	p.AddInstance(enabledInstance("i-1", "first"))
	p.AddVolume(volume("vol-2", "i-2"))
	p.AddVolume(volume("vol-1", "i-1"))

	newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "us-west-1", 2)

	var ops []string
	for _, call := range p.Calls() {
		ops = append(ops, call.Op+" "+call.Arg)
	}
	assert.Equal(t, []string{
		"ListInstances us-west-1",
		"ListVolumes i-2",
		"CreateSnapshot vol-2",
		"TagSnapshot snap-0001",
		"ListSnapshots vol-2",
		"ListVolumes i-1",
		"CreateSnapshot vol-1",
		"TagSnapshot snap-0002",
		"ListSnapshots vol-1",
	}, ops)
}

func TestRunRegion_ZeroRetentionKeepsNewSnapshot(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	// EC2 stamps StartTime before the pruner reads the clock.
	p.Now = func() time.Time { return c.Now().Add(-time.Second) }
	p.AddInstance(enabledInstance("i-1", "web1", tag("ec2_backup_count", "0")))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-yesterday", "vol-a", "web1", day))

	res := newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "us-west-1", 2)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"snap-0001"}, snapshotIDs(p.Snapshots("vol-a")))
	for _, call := range p.CallsTo("DeleteSnapshot") {
		assert.NotEqual(t, "snap-0001", call.Arg)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Selection
// ═══════════════════════════════════════════════════════════════════════════

func TestRunRegion_SkipsIneligibleInstances(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)

	disabled := enabledInstance("i-disabled", "disabled")
	disabled.Tags[1].Value = "false"
	stopped := enabledInstance("i-stopped", "stopped")
	stopped.State = resource.StateStopped
	untagged := resource.Instance{ID: "i-untagged", State: resource.StateRunning, Tags: resource.Tags{tag(NameTag, "untagged")}}

	p.AddInstance(disabled)
	p.AddInstance(stopped)
	p.AddInstance(untagged)
	p.AddInstance(enabledInstance("i-ok", "ok"))

	res := newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Instances)
	calls := p.CallsTo("ListVolumes")
	require.Len(t, calls, 1)
	assert.Equal(t, "i-ok", calls[0].Arg)
}

func TestRunRegion_DefaultRetention(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-6d", "vol-a", "web1", 6*day))
	p.AddSnapshot(managedSnapshot("snap-8d", "vol-a", "web1", 8*day))
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 7)

	assert.Equal(t, 1, res.Deleted)
	assert.Contains(t, messages(log.Entries()), "Instance name: web1, Instance ID: i-1, Retention Period: 7 days.")
}

// ═══════════════════════════════════════════════════════════════════════════
// Error isolation
// ═══════════════════════════════════════════════════════════════════════════

func TestRunRegion_ConfigErrorSkipsOnlyThatInstance(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	noName := enabledInstance("i-noname", "x")
	noName.Tags = noName.Tags[1:]
	p.AddInstance(noName)
	p.AddInstance(enabledInstance("i-bad", "bad", tag("ec2_backup_count", "three")))
	p.AddInstance(enabledInstance("i-ok", "ok"))
	p.AddVolume(volume("vol-noname", "i-noname"))
	p.AddVolume(volume("vol-bad", "i-bad"))
	p.AddVolume(volume("vol-ok", "i-ok"))
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 2)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Failures)
	assert.Equal(t, 1, res.Instances)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, p.Snapshots("vol-noname"))
	assert.Empty(t, p.Snapshots("vol-bad"))
	assert.Len(t, p.Snapshots("vol-ok"), 1)
	assert.Equal(t, 2, log.Errors())
}

func TestRunRegion_CreateFailureIsolatedToVolume(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddVolume(volume("vol-b", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-old-a", "vol-a", "web1", 9*day))
	p.Errors["CreateSnapshot:vol-a"] = &plugin.ProviderError{
		Op:        "CreateSnapshot",
		Resource:  "vol-a",
		Code:      "SnapshotCreationPerVolumeRateExceeded",
		Transient: true,
		Err:       errors.New("rate exceeded"),
	}
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Volumes)

	// vol-a is not pruned without a fresh snapshot.
	for _, call := range p.CallsTo("ListSnapshots") {
		assert.NotEqual(t, "vol-a", call.Arg)
	}
	assert.Len(t, p.Snapshots("vol-a"), 1)
	assert.Len(t, p.Snapshots("vol-b"), 1)

	var failure string
	for _, e := range log.Entries() {
		if e.Error {
			failure = e.Message
		}
	}
	assert.Contains(t, failure, "Snapshot of volume vol-a failed (transient)")
	assert.Contains(t, messages(log.Entries()), "Backup complete for instance web1 (i-1)")
}

func TestRunRegion_TagFailureStillPrunes(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-old", "vol-a", "web1", 9*day))
	p.Errors["TagSnapshot"] = errors.New("UnauthorizedOperation")
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, []string{"snap-0001"}, snapshotIDs(p.Snapshots("vol-a")))

	msgs := messages(log.Entries())
	assert.Contains(t, msgs, "Snapshot created with description [autosnap-web1.vol-a-20240309-120000]")
	require.Equal(t, 1, log.Errors())
	for _, e := range log.Entries() {
		if e.Error {
			assert.True(t, strings.HasPrefix(e.Message, "Tagging snapshot snap-0001 of volume vol-a failed (permanent)"), e.Message)
		}
	}
}

func TestRunRegion_PruneFailureCounted(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddVolume(volume("vol-b", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-old-b", "vol-b", "web1", 9*day))
	p.Errors["ListSnapshots:vol-a"] = errors.New("UnauthorizedOperation")

	res := newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Deleted)
}

func TestRunRegion_ListVolumesFails(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddInstance(enabledInstance("i-2", "web2"))
	p.AddVolume(volume("vol-2", "i-2"))
	p.Errors["ListVolumes:i-1"] = errors.New("UnauthorizedOperation")

	res := newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 1, res.Created)
}

func TestRunRegion_ListInstancesFails(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.Errors["ListInstances"] = &plugin.ProviderError{Op: "DescribeInstances", Transient: true, Err: errors.New("timeout")}
	log := newLog(c)

	res := newOrchestrator(p, c, log, Options{}).RunRegion(context.Background(), "us-west-1", 2)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "list instances in us-west-1")
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 1, log.Errors())
}

func TestRunRegion_UnknownRegion(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)

	res := newOrchestrator(p, c, newLog(c), Options{}).RunRegion(context.Background(), "eu-north-9", 2)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "connect region eu-north-9")
	assert.Empty(t, p.Calls())
}

func TestRunRegion_DryRun(t *testing.T) {
	c := clock.NewFake(testNow)
	p := newFake("us-west-1", c)
	p.AddInstance(enabledInstance("i-1", "web1"))
	p.AddVolume(volume("vol-a", "i-1"))
	p.AddSnapshot(managedSnapshot("snap-old", "vol-a", "web1", 9*day))

	res := newOrchestrator(p, c, newLog(c), Options{DryRun: true}).RunRegion(context.Background(), "us-west-1", 2)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, p.CallsTo("CreateSnapshot"))
	assert.Empty(t, p.CallsTo("DeleteSnapshot"))
	assert.Equal(t, []string{"snap-old"}, snapshotIDs(p.Snapshots("vol-a")))
}

func metricNames(t *testing.T, m *telemetry.Provider) []string {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func hasMetric(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestRunRegion_Metrics(t *testing.T) {
	for _, tc := range []struct {
		name   string
		dryRun bool
	}{
		{"live run records snapshots", false},
		{"dry run records no snapshots", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := clock.NewFake(testNow)
			p := newFake("us-west-1", c)
			p.AddInstance(enabledInstance("i-1", "web1"))
			p.AddVolume(volume("vol-a", "i-1"))
			p.AddSnapshot(managedSnapshot("snap-old", "vol-a", "web1", 9*day))

			metrics, err := telemetry.NewProvider(context.Background(), config.OTELConfig{ServiceName: "autosnap-test"})
			require.NoError(t, err)
			defer func() { _ = metrics.Shutdown(context.Background()) }()

			orch := NewOrchestrator(factoryFor(p), filter.New("", nil), newLog(c), c, metrics, Options{DryRun: tc.dryRun})
			res := orch.RunRegion(context.Background(), "us-west-1", 2)
			require.Equal(t, 1, res.Created)
			require.Equal(t, 1, res.Deleted)

			names := metricNames(t, metrics)
			assert.True(t, hasMetric(names, "autosnap_instances_visited"), names)
			assert.Equal(t, !tc.dryRun, hasMetric(names, "autosnap_snapshots_created"), names)
			assert.Equal(t, !tc.dryRun, hasMetric(names, "autosnap_snapshots_deleted"), names)
		})
	}
}
