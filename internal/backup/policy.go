package backup

import (
	"errors"
	"strconv"
	"strings"

	"github.com/yairfalse/autosnap/pkg/resource"
)

const (
	// NameTag names an instance; it is embedded in every snapshot description.
	NameTag = "Name"

	// DefaultRetentionTag overrides the retention days for one instance.
	DefaultRetentionTag = "ec2_backup_count"

	// DefaultRetentionDays applies when neither the run nor the instance sets one.
	DefaultRetentionDays = 2
)

var (
	errMissingName       = errors.New("required tag is missing")
	errNegativeRetention = errors.New("retention days must not be negative")
)

// ResolveName returns the first "Name" tag of the instance.
func ResolveName(i resource.Instance) (string, error) {
	name, ok := i.Tags.Value(NameTag)
	if !ok || strings.TrimSpace(name) == "" {
		return "", &ConfigError{InstanceID: i.ID, Field: NameTag, Err: errMissingName}
	}
	return name, nil
}

// ResolveRetention returns the instance override under key, or def when the
// tag is absent. A present but non-numeric value is a ConfigError.
func ResolveRetention(i resource.Instance, key string, def int) (int, error) {
	if key == "" {
		key = DefaultRetentionTag
	}
	raw, ok := i.Tags.Value(key)
	if !ok {
		return def, nil
	}

	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ConfigError{InstanceID: i.ID, Field: key, Value: raw, Err: err}
	}
	if days < 0 {
		return 0, &ConfigError{InstanceID: i.ID, Field: key, Value: raw, Err: errNegativeRetention}
	}
	return days, nil
}
