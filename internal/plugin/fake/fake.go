// Package fake provides an in-memory plugin.Plugin for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/pkg/resource"
)

// Call records a single mutating or listing call against the fake.
type Call struct {
	Op  string
	Arg string
}

// Plugin is an in-memory cloud. Instances, volumes and snapshots are kept in
// insertion order so tests see deterministic provider ordering.
type Plugin struct {
	mu sync.Mutex

	region    string
	instances []resource.Instance
	volumes   []resource.Volume
	snapshots []resource.Snapshot

	nextID int
	calls  []Call

	// Now stamps newly created snapshots. Defaults to time.Now.
	Now func() time.Time

	// Errors injects a failure for an op ("ListInstances", "CreateSnapshot", ...),
	// optionally scoped to one argument with the key "Op:arg".
	Errors map[string]error
}

// New returns an empty fake bound to region.
func New(region string) *Plugin {
	return &Plugin{
		region: region,
		Now:    time.Now,
		Errors: make(map[string]error),
	}
}

// AddInstance seeds an instance.
func (p *Plugin) AddInstance(i resource.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i.Region == "" {
		i.Region = p.region
	}
	p.instances = append(p.instances, i)
}

// AddVolume seeds a volume attached to instanceID.
func (p *Plugin) AddVolume(v resource.Volume) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.Region == "" {
		v.Region = p.region
	}
	p.volumes = append(p.volumes, v)
}

// AddSnapshot seeds an existing snapshot.
func (p *Plugin) AddSnapshot(s resource.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

// Snapshots returns the current snapshots of volumeID.
func (p *Plugin) Snapshots(volumeID string) []resource.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []resource.Snapshot
	for _, s := range p.snapshots {
		if s.VolumeID == volumeID {
			out = append(out, s)
		}
	}
	return out
}

// Calls returns all recorded calls in order.
func (p *Plugin) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the recorded calls for op.
func (p *Plugin) CallsTo(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "fake"
}

// Region returns the bound region.
func (p *Plugin) Region() string {
	return p.region
}

func (p *Plugin) record(op, arg string) error {
	p.calls = append(p.calls, Call{Op: op, Arg: arg})
	if err, ok := p.Errors[op+":"+arg]; ok {
		return err
	}
	return p.Errors[op]
}

// ListInstances returns instances matching the query states and tag keys.
func (p *Plugin) ListInstances(_ context.Context, q plugin.InstanceQuery) ([]resource.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ListInstances", p.region); err != nil {
		return nil, err
	}

	var out []resource.Instance
	for _, i := range p.instances {
		if len(q.States) > 0 && !contains(q.States, i.State) {
			continue
		}
		if !hasTagKeys(i.Tags, q.TagKeysSet) {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

// ListVolumes returns volumes attached to instanceID.
func (p *Plugin) ListVolumes(_ context.Context, instanceID string) ([]resource.Volume, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ListVolumes", instanceID); err != nil {
		return nil, err
	}

	var out []resource.Volume
	for _, v := range p.volumes {
		if v.InstanceID == instanceID {
			out = append(out, v)
		}
	}
	return out, nil
}

// CreateSnapshot stores a new pending snapshot.
func (p *Plugin) CreateSnapshot(_ context.Context, volumeID, description string) (resource.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateSnapshot", volumeID); err != nil {
		return resource.Snapshot{}, err
	}

	p.nextID++
	s := resource.Snapshot{
		ID:          fmt.Sprintf("snap-%04d", p.nextID),
		VolumeID:    volumeID,
		Description: description,
		State:       "pending",
		StartTime:   p.Now(),
	}
	p.snapshots = append(p.snapshots, s)
	return s, nil
}

// TagSnapshot replaces tags with matching keys and appends the rest.
func (p *Plugin) TagSnapshot(_ context.Context, snapshotID string, tags resource.Tags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("TagSnapshot", snapshotID); err != nil {
		return err
	}

	for i := range p.snapshots {
		if p.snapshots[i].ID != snapshotID {
			continue
		}
		for _, tag := range tags {
			p.snapshots[i].Tags = upsert(p.snapshots[i].Tags, tag)
		}
		return nil
	}
	return fmt.Errorf("snapshot %s not found", snapshotID)
}

// ListSnapshots returns all snapshots of volumeID.
func (p *Plugin) ListSnapshots(_ context.Context, volumeID string) ([]resource.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ListSnapshots", volumeID); err != nil {
		return nil, err
	}

	var out []resource.Snapshot
	for _, s := range p.snapshots {
		if s.VolumeID == volumeID {
			out = append(out, s)
		}
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot; unknown ids succeed.
func (p *Plugin) DeleteSnapshot(_ context.Context, snapshotID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DeleteSnapshot", snapshotID); err != nil {
		return err
	}

	for i, s := range p.snapshots {
		if s.ID == snapshotID {
			p.snapshots = append(p.snapshots[:i], p.snapshots[i+1:]...)
			return nil
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasTagKeys(tags resource.Tags, keys []string) bool {
	for _, k := range keys {
		if _, ok := tags.Value(k); !ok {
			return false
		}
	}
	return true
}

func upsert(tags resource.Tags, tag resource.Tag) resource.Tags {
	for i := range tags {
		if tags[i].Key == tag.Key {
			tags[i].Value = tag.Value
			return tags
		}
	}
	return append(tags, tag)
}

var _ plugin.Plugin = (*Plugin)(nil)
