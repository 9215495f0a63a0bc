package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/autosnap/internal/clock"
	"github.com/yairfalse/autosnap/internal/notify"
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/plugin/fake"
	"github.com/yairfalse/autosnap/internal/runlog"
	"github.com/yairfalse/autosnap/pkg/resource"
)

var testNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func newFake(region string, c clock.Clock) *fake.Plugin {
	f := fake.New(region)
	f.Now = c.Now
	return f
}

func newLog(c clock.Clock) *runlog.Log {
	return runlog.New(c, zerolog.Nop())
}

func messages(entries []runlog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func tag(k, v string) resource.Tag {
	return resource.Tag{Key: k, Value: v}
}

func enabledInstance(id, name string, extra ...resource.Tag) resource.Instance {
	tags := resource.Tags{tag(NameTag, name), tag("ec2_backup_enabled", "true")}
	return resource.Instance{
		ID:    id,
		Name:  name,
		State: resource.StateRunning,
		Tags:  append(tags, extra...),
	}
}

func volume(id, instanceID string) resource.Volume {
	return resource.Volume{ID: id, InstanceID: instanceID}
}

// managedSnapshot is an autosnap snapshot of vol taken age ago.
func managedSnapshot(id, vol, instanceName string, age time.Duration) resource.Snapshot {
	created := testNow.Add(-age)
	return resource.Snapshot{
		ID:          id,
		VolumeID:    vol,
		Description: resource.FormatDescription(instanceName, vol, created),
		State:       "completed",
		StartTime:   created,
	}
}

func foreignSnapshot(id, vol, description string, age time.Duration) resource.Snapshot {
	return resource.Snapshot{
		ID:          id,
		VolumeID:    vol,
		Description: description,
		State:       "completed",
		StartTime:   testNow.Add(-age),
	}
}

func snapshotIDs(snaps []resource.Snapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}

func factoryFor(fakes ...*fake.Plugin) plugin.Factory {
	return func(_ context.Context, region string) (plugin.Plugin, error) {
		for _, f := range fakes {
			if f.Region() == region {
				return f, nil
			}
		}
		return nil, fmt.Errorf("no credentials for region %s", region)
	}
}

type recordingNotifier struct {
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}
