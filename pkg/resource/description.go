package resource

import (
	"strings"
	"time"
)

const (
	// DescriptionPrefix marks snapshots created (and therefore managed) by autosnap.
	DescriptionPrefix = "autosnap-"

	// DescriptionTimeLayout is the YYYYMMDD-HHMMSS suffix of a description.
	DescriptionTimeLayout = "20060102-150405"
)

// Description is the decoded form of "autosnap-<instance>.<volume>-<YYYYMMDD-HHMMSS>".
type Description struct {
	InstanceName string
	VolumeID     string
	CreatedAt    time.Time
}

// FormatDescription builds the description for a new snapshot.
func FormatDescription(instanceName, volumeID string, t time.Time) string {
	return DescriptionPrefix + instanceName + "." + volumeID + "-" + t.Format(DescriptionTimeLayout)
}

// HasPrefix reports whether s looks like an autosnap description.
func HasPrefix(s string) bool {
	return strings.HasPrefix(s, DescriptionPrefix)
}

// ParseDescription decodes a description produced by FormatDescription.
// Instance names may contain dots, so the volume id is taken after the last one.
func ParseDescription(s string) (Description, bool) {
	if !HasPrefix(s) {
		return Description{}, false
	}
	rest := strings.TrimPrefix(s, DescriptionPrefix)

	// The timestamp itself contains a dash, so cut a fixed-width suffix.
	suffix := len(DescriptionTimeLayout) + 1
	if len(rest) <= suffix || rest[len(rest)-suffix] != '-' {
		return Description{}, false
	}
	ts, err := time.Parse(DescriptionTimeLayout, rest[len(rest)-suffix+1:])
	if err != nil {
		return Description{}, false
	}
	rest = rest[:len(rest)-suffix]

	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 {
		return Description{}, false
	}

	return Description{
		InstanceName: rest[:dot],
		VolumeID:     rest[dot+1:],
		CreatedAt:    ts,
	}, true
}
