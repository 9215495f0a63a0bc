package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/autosnap/internal/plugin"
	"github.com/yairfalse/autosnap/internal/plugin/fake"
)

func fakeFactory(_ context.Context, region string) (plugin.Plugin, error) {
	return fake.New(region), nil
}

func TestRegister(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register("test", fakeFactory)

	f, ok := plugin.Get("test")
	require.True(t, ok)

	p, err := f(context.Background(), "us-west-1")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())
	assert.Equal(t, "us-west-1", p.Region())
}

func TestGet_NotFound(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	_, ok := plugin.Get("nonexistent")
	assert.False(t, ok)
}

func TestNames(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register("gcp", fakeFactory)
	plugin.Register("aws", fakeFactory)

	assert.Equal(t, []string{"aws", "gcp"}, plugin.Names())
}

func TestRegister_Replaces(t *testing.T) {
	plugin.Clear()
	defer plugin.Clear()

	plugin.Register("aws", fakeFactory)
	plugin.Register("aws", fakeFactory)

	assert.Len(t, plugin.Names(), 1)
}
