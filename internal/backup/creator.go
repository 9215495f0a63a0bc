package backup

import (
	"context"
	"fmt"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/pkg/resource"
)

// Creator takes one snapshot per volume and tags it with its description.
type Creator struct {
	provider plugin.Plugin
	log      *runlog.Log
	clock    clock.Clock
	dryRun   bool
}

// NewCreator creates a Creator bound to one provider region.
func NewCreator(p plugin.Plugin, log *runlog.Log, c clock.Clock, dryRun bool) *Creator {
	return &Creator{provider: p, log: log, clock: c, dryRun: dryRun}
}

// TagError is a snapshot that was created but could not be tagged. The
// snapshot exists and still carries its description.
type TagError struct {
	SnapshotID string
	Err        error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tag snapshot %s: %v", e.SnapshotID, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// Create snapshots volume. The description embeds instanceName, the volume id
// and the creation time, and is also written as the snapshot's Name tag.
// When only tagging fails, the snapshot is returned with a *TagError.
func (c *Creator) Create(ctx context.Context, instanceName string, volume resource.Volume) (resource.Snapshot, error) {
	now := c.clock.Now().UTC()
	description := resource.FormatDescription(instanceName, volume.ID, now)

	if c.dryRun {
		c.log.Logf("Would create snapshot with description [%s]", description)
		return resource.Snapshot{VolumeID: volume.ID, Description: description, StartTime: now}, nil
	}

	snap, err := c.provider.CreateSnapshot(ctx, volume.ID, description)
	if err != nil {
		return resource.Snapshot{}, fmt.Errorf("create snapshot of %s: %w", volume.ID, err)
	}
	if snap.Description == "" {
		snap.Description = description
	}
	c.log.Logf("Snapshot created with description [%s]", description)

	tags := resource.Tags{{Key: NameTag, Value: description}}
	if err := c.provider.TagSnapshot(ctx, snap.ID, tags); err != nil {
		return snap, &TagError{SnapshotID: snap.ID, Err: err}
	}
	snap.Tags = append(snap.Tags, tags...)

	return snap, nil
}
