// Package resource defines the compute, storage and snapshot model for autosnap.
package resource

import "time"

// Instance states reported by providers.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// Instance is a compute instance as returned by the provider. Read-only.
type Instance struct {
	ID     string `json:"id"`     // Unique identifier (e.g., "i-abc123")
	Name   string `json:"name"`   // Value of the first "Name" tag, empty if absent
	State  string `json:"state"`  // Current state (e.g., "running")
	Region string `json:"region"` // Region (e.g., "us-east-1")
	Tags   Tags   `json:"tags"`   // Tags in provider order
}

// Running reports whether the instance is in the running state.
func (i Instance) Running() bool {
	return i.State == StateRunning
}

// Volume is a block-storage volume attached to an instance at backup time.
// Attachment is point-in-time; the volume lifecycle is independent of the instance.
type Volume struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	Device     string `json:"device,omitempty"`
	Region     string `json:"region"`
	Tags       Tags   `json:"tags"`
}

// Snapshot is a point-in-time copy of a volume.
type Snapshot struct {
	ID          string    `json:"id"`
	VolumeID    string    `json:"volume_id"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	StartTime   time.Time `json:"start_time"`
	Tags        Tags      `json:"tags"`
}

// Age returns how long ago the snapshot was started, relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// Managed reports whether the snapshot carries an autosnap description.
func (s Snapshot) Managed() bool {
	return HasPrefix(s.Description)
}
