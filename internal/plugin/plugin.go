// Package plugin defines the cloud provider interface used by autosnap.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/yairfalse/autosnap/pkg/resource"
)

// InstanceQuery narrows the instances a provider returns.
// Providers may apply it server side; callers still verify the result.
type InstanceQuery struct {
	States     []string // e.g. "running"
	TagKeysSet []string // instances must carry these tag keys
}

// Plugin is the interface all cloud provider plugins must implement.
// One Plugin is bound to one region.
type Plugin interface {
	// Name returns the plugin identifier (e.g., "aws")
	Name() string

	// Region returns the region this plugin talks to.
	Region() string

	ListInstances(ctx context.Context, q InstanceQuery) ([]resource.Instance, error)
	ListVolumes(ctx context.Context, instanceID string) ([]resource.Volume, error)

	// CreateSnapshot starts a snapshot of the volume with the given description.
	CreateSnapshot(ctx context.Context, volumeID, description string) (resource.Snapshot, error)
	TagSnapshot(ctx context.Context, snapshotID string, tags resource.Tags) error

	// ListSnapshots returns every snapshot of the volume visible to the account,
	// regardless of who created it.
	ListSnapshots(ctx context.Context, volumeID string) ([]resource.Snapshot, error)

	// DeleteSnapshot removes a snapshot. Deleting an id that no longer
	// exists must succeed.
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// Factory builds a Plugin bound to region.
type Factory func(ctx context.Context, region string) (Plugin, error)

// Registry holds registered plugin factories.
var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a plugin factory under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Get returns a factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns all registered plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all factories from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}
