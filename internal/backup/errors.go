package backup

import (
	"errors"
	"fmt"

	"github.com/yairfalse/autosnap/internal/plugin"
)

// ConfigError is malformed per-instance configuration. It fails only the
// instance it belongs to.
type ConfigError struct {
	InstanceID string
	Field      string // tag key or config option
	Value      string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Field, e.Err)
	}
	return fmt.Sprintf("instance %s: %s=%q: %v", e.InstanceID, e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Failure kinds reported in logs and metrics.
const (
	KindConfig    = "config"
	KindTransient = "transient"
	KindPermanent = "permanent"
)

// Kind classifies err for reporting. Every kind propagates the same way.
func Kind(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfig
	}
	if plugin.IsTransient(err) {
		return KindTransient
	}
	return KindPermanent
}
