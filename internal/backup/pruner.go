package backup

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/pkg/resource"
)

const day = 24 * time.Hour

// Pruner deletes expired autosnap snapshots of a volume.
type Pruner struct {
	provider plugin.Plugin
	log      *runlog.Log
	clock    clock.Clock
	dryRun   bool

	// strict additionally requires the description to name the instance and
	// volume being pruned. Off, any autosnap snapshot of the volume qualifies.
	strict bool
}

// NewPruner creates a Pruner bound to one provider region.
func NewPruner(p plugin.Plugin, log *runlog.Log, c clock.Clock, dryRun, strict bool) *Pruner {
	return &Pruner{provider: p, log: log, clock: c, dryRun: dryRun, strict: strict}
}

// Prune deletes every snapshot of volume older than retentionDays that
// carries an autosnap description. A snapshot exactly retentionDays old is
// kept, and so is every snapshot whose id is in keep. It stops at the first
// failed delete and returns how many were deleted before it.
func (p *Pruner) Prune(ctx context.Context, retentionDays int, instanceName string, volume resource.Volume, keep ...string) (int, error) {
	snapshots, err := p.provider.ListSnapshots(ctx, volume.ID)
	if err != nil {
		return 0, fmt.Errorf("list snapshots of %s: %w", volume.ID, err)
	}

	now := p.clock.Now()
	retention := time.Duration(retentionDays) * day
	deleted := 0

	for _, s := range snapshots {
		if slices.Contains(keep, s.ID) || !p.Expired(s, now, retention, instanceName, volume.ID) {
			continue
		}

		created := s.StartTime.Format(time.RFC3339)
		if p.dryRun {
			p.log.Logf("Would delete snapshot [%s - %s] created [%s]", s.ID, s.Description, created)
			deleted++
			continue
		}

		p.log.Logf("Deleting snapshot [%s - %s] created [%s]", s.ID, s.Description, created)
		if err := p.provider.DeleteSnapshot(ctx, s.ID); err != nil {
			return deleted, fmt.Errorf("delete snapshot %s: %w", s.ID, err)
		}
		deleted++
	}

	return deleted, nil
}

// Expired reports whether s is due for deletion at now.
func (p *Pruner) Expired(s resource.Snapshot, now time.Time, retention time.Duration, instanceName, volumeID string) bool {
	if !s.Managed() || s.Age(now) <= retention {
		return false
	}
	if !p.strict {
		return true
	}

	d, ok := resource.ParseDescription(s.Description)
	return ok && d.InstanceName == instanceName && d.VolumeID == volumeID
}
