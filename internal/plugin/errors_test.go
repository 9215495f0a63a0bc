package plugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError(t *testing.T) {
	base := errors.New("slow down")
	err := &ProviderError{Op: "CreateSnapshot", Resource: "vol-a", Code: "RequestLimitExceeded", Transient: true, Err: base}

	assert.Equal(t, "CreateSnapshot vol-a (transient): slow down", err.Error())
	assert.ErrorIs(t, err, base)
	assert.True(t, IsTransient(fmt.Errorf("create: %w", err)))
}

func TestProviderError_Permanent(t *testing.T) {
	err := &ProviderError{Op: "DescribeInstances", Err: errors.New("UnauthorizedOperation")}

	assert.Equal(t, "DescribeInstances (permanent): UnauthorizedOperation", err.Error())
	assert.False(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("plain")))
}
