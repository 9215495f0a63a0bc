package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/pkg/resource"
)

// snapshotNotFound is returned when deleting a snapshot that is already gone.
const snapshotNotFound = "InvalidSnapshot.NotFound"

// ListInstances describes instances matching q, in provider order.
func (p *Plugin) ListInstances(ctx context.Context, q plugin.InstanceQuery) ([]resource.Instance, error) {
	var filters []ec2types.Filter
	if len(q.States) > 0 {
		filters = append(filters, ec2types.Filter{Name: aws.String("instance-state-name"), Values: q.States})
	}
	if len(q.TagKeysSet) > 0 {
		filters = append(filters, ec2types.Filter{Name: aws.String("tag-key"), Values: q.TagKeysSet})
	}

	var instances []resource.Instance
	pager := ec2.NewDescribeInstancesPaginator(p.ec2Client, &ec2.DescribeInstancesInput{Filters: filters})

	for pager.HasMorePages() {
		output, err := nextPage(ctx, p, pager.NextPage)
		if err != nil {
			return nil, wrapError("DescribeInstances", p.region, err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, p.convertInstance(instance))
			}
		}
	}

	return instances, nil
}

// nextPage fetches one page under the per-call timeout.
func nextPage[T any](ctx context.Context, p *Plugin, next func(context.Context, ...func(*ec2.Options)) (T, error)) (T, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return next(ctx)
}

func (p *Plugin) convertInstance(instance ec2types.Instance) resource.Instance {
	tags := convertTags(instance.Tags)
	name, _ := tags.Value("Name")

	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}

	return resource.Instance{
		ID:     aws.ToString(instance.InstanceId),
		Name:   name,
		State:  state,
		Region: p.region,
		Tags:   tags,
	}
}

// ListVolumes describes volumes currently attached to instanceID.
func (p *Plugin) ListVolumes(ctx context.Context, instanceID string) ([]resource.Volume, error) {
	filters := []ec2types.Filter{
		{Name: aws.String("attachment.instance-id"), Values: []string{instanceID}},
	}

	var volumes []resource.Volume
	pager := ec2.NewDescribeVolumesPaginator(p.ec2Client, &ec2.DescribeVolumesInput{Filters: filters})

	for pager.HasMorePages() {
		output, err := nextPage(ctx, p, pager.NextPage)
		if err != nil {
			return nil, wrapError("DescribeVolumes", instanceID, err)
		}

		for _, volume := range output.Volumes {
			volumes = append(volumes, p.convertVolume(volume, instanceID))
		}
	}

	return volumes, nil
}

func (p *Plugin) convertVolume(volume ec2types.Volume, instanceID string) resource.Volume {
	v := resource.Volume{
		ID:         aws.ToString(volume.VolumeId),
		InstanceID: instanceID,
		Region:     p.region,
		Tags:       convertTags(volume.Tags),
	}
	for _, att := range volume.Attachments {
		if aws.ToString(att.InstanceId) == instanceID {
			v.Device = aws.ToString(att.Device)
			break
		}
	}
	return v
}

// CreateSnapshot starts an EBS snapshot of volumeID.
func (p *Plugin) CreateSnapshot(ctx context.Context, volumeID, description string) (resource.Snapshot, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	output, err := p.ec2Client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return resource.Snapshot{}, wrapError("CreateSnapshot", volumeID, err)
	}

	return resource.Snapshot{
		ID:          aws.ToString(output.SnapshotId),
		VolumeID:    volumeID,
		Description: aws.ToString(output.Description),
		State:       string(output.State),
		StartTime:   safeTimeValue(output.StartTime),
		Tags:        convertTags(output.Tags),
	}, nil
}

// TagSnapshot attaches tags to snapshotID.
func (p *Plugin) TagSnapshot(ctx context.Context, snapshotID string, tags resource.Tags) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for _, tag := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}

	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{snapshotID},
		Tags:      ec2Tags,
	})
	return wrapError("CreateTags", snapshotID, err)
}

// ListSnapshots describes all snapshots of volumeID owned by this account.
func (p *Plugin) ListSnapshots(ctx context.Context, volumeID string) ([]resource.Snapshot, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []ec2types.Filter{
			{Name: aws.String("volume-id"), Values: []string{volumeID}},
		},
	}

	var snapshots []resource.Snapshot
	pager := ec2.NewDescribeSnapshotsPaginator(p.ec2Client, input)

	for pager.HasMorePages() {
		output, err := nextPage(ctx, p, pager.NextPage)
		if err != nil {
			return nil, wrapError("DescribeSnapshots", volumeID, err)
		}

		for _, snapshot := range output.Snapshots {
			snapshots = append(snapshots, convertSnapshot(snapshot))
		}
	}

	return snapshots, nil
}

func convertSnapshot(snapshot ec2types.Snapshot) resource.Snapshot {
	return resource.Snapshot{
		ID:          aws.ToString(snapshot.SnapshotId),
		VolumeID:    aws.ToString(snapshot.VolumeId),
		Description: aws.ToString(snapshot.Description),
		State:       string(snapshot.State),
		StartTime:   safeTimeValue(snapshot.StartTime),
		Tags:        convertTags(snapshot.Tags),
	}
}

// DeleteSnapshot deletes snapshotID. A snapshot that is already gone counts as deleted.
func (p *Plugin) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	_, err := p.ec2Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(snapshotID)})
	if err != nil && errorCode(err) == snapshotNotFound {
		return nil
	}
	return wrapError("DeleteSnapshot", snapshotID, err)
}

// convertTags keeps EC2 tag order.
func convertTags(tags []ec2types.Tag) resource.Tags {
	out := make(resource.Tags, 0, len(tags))
	for _, tag := range tags {
		out = append(out, resource.Tag{Key: aws.ToString(tag.Key), Value: aws.ToString(tag.Value)})
	}
	return out
}

// safeTimeValue safely converts *time.Time to time.Time
func safeTimeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
