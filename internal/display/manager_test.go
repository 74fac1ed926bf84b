package display

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

func testConfig() config.DisplayConfig {
	cfg := config.Defaults().Display
	cfg.StartWindowManager = false
	cfg.SettleDelay = 20 * time.Millisecond
	cfg.TeardownGrace = 50 * time.Millisecond
	return cfg
}

func TestAllocate_FailsWhenDisplayProcessExitsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayCommand = "true" // exits immediately, never survives the settle delay
	m, err := New(cfg)
	require.NoError(t, err)

	_, err = m.Allocate(context.Background(), "task-1", 0, 0)

	assert.ErrorIs(t, err, ErrStartFailed)
}

func TestGetDisplayString_DefaultsWhenUnallocated(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.DefaultDisplay, m.GetDisplayString("no-such-task"))
}

func TestRelease_IsNoOpOnUnknownTaskID(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.Release("never-allocated")
	})
}

func TestNextFreeSlot_StartsAtConfiguredMinimumAndSkipsTaken(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	m.slots[cfg.MinSlot] = struct{}{}

	assert.Equal(t, cfg.MinSlot+1, m.nextFreeSlotLocked())
}
