package plugin

import (
	"errors"
	"fmt"
)

// ProviderError is a failed call to the cloud provider.
// Transient failures (throttling, timeouts, 5xx) and permanent ones
// (permissions, missing resources) propagate the same way; the flag
// only changes how they are reported.
type ProviderError struct {
	Op        string // provider operation, e.g. "CreateSnapshot"
	Resource  string // id the call was about, may be empty
	Code      string // provider error code, if known
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Resource == "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, kind, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Resource, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err wraps a transient ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
