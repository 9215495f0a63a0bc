// Package filter decides which instances are eligible for backup.
package filter

import (
	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/pkg/resource"
)

// DefaultEnabledTag opts an instance into backups when set to "true".
const DefaultEnabledTag = "ec2_backup_enabled"

// Filter selects running instances that opted in through a tag.
type Filter struct {
	enabledTag  string
	excludeTags map[string]string
}

// New creates a Filter. An empty enabledTag falls back to DefaultEnabledTag.
// Instances carrying any of excludeTags (exact key and value) are skipped.
func New(enabledTag string, excludeTags map[string]string) *Filter {
	if enabledTag == "" {
		enabledTag = DefaultEnabledTag
	}
	return &Filter{
		enabledTag:  enabledTag,
		excludeTags: excludeTags,
	}
}

// Query returns the server-side narrowing for the provider.
// Tag values are matched case-insensitively in ShouldInclude, so only the key is pushed down.
func (f *Filter) Query() plugin.InstanceQuery {
	return plugin.InstanceQuery{
		States:     []string{resource.StateRunning},
		TagKeysSet: []string{f.enabledTag},
	}
}

// ShouldInclude returns true if the instance is running and opted in.
func (f *Filter) ShouldInclude(i resource.Instance) bool {
	if !i.Running() {
		return false
	}
	if !i.Tags.Enabled(f.enabledTag) {
		return false
	}

	// Check exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if got, ok := i.Tags.Value(k); ok && got == v {
			return false
		}
	}

	return true
}

// Instances returns only instances that pass the filter, keeping order.
func (f *Filter) Instances(instances []resource.Instance) []resource.Instance {
	filtered := make([]resource.Instance, 0, len(instances))
	for _, i := range instances {
		if f.ShouldInclude(i) {
			filtered = append(filtered, i)
		}
	}
	return filtered
}
