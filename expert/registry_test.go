package expert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/types"
)

func TestRegistryRegisterGet(t *testing.T) {
	reg := NewRegistry(nil)

	reg.Register(Descriptor{ID: "calendar", Name: "Calendar", Triggers: []string{"schedule", "meeting"}})

	desc, err := reg.Get("calendar")
	require.NoError(t, err)
	assert.Equal(t, "Calendar", desc.Name)

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrExpertNotFound, types.GetErrorCode(err))
}

func TestRegistryDeregister(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "weather"})

	reg.Deregister("weather")

	_, err := reg.Get("weather")
	assert.Error(t, err)
}

func TestRegistrySnapshotSorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "weather"})
	reg.Register(Descriptor{ID: "calendar"})
	reg.Register(Descriptor{ID: "list"})

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "calendar", snap[0].ID)
	assert.Equal(t, "list", snap[1].ID)
	assert.Equal(t, "weather", snap[2].ID)
}

func TestRegistryLoadReplacesAll(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Descriptor{ID: "old"})

	reg.Load(config.ExpertsConfig{Entries: []config.ExpertEntry{
		{ID: "new-a"},
		{ID: "new-b"},
	}})

	_, err := reg.Get("old")
	assert.Error(t, err)
	assert.Equal(t, 2, reg.Len())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := NewRegistryFromConfig(cfg.Experts, nil)

	for _, id := range []string{"calendar", "list", "reminder", "weather", "memory", "home", "general"} {
		_, err := reg.Get(id)
		assert.NoError(t, err, "default expert %s", id)
	}
}
