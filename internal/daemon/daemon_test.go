package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

func TestNewAndShutdown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Journal.Path = ":memory:"
	cfg.Vision.Backend = "passthrough"
	cfg.StuckDetector.Interval = time.Hour

	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d.Scheduler)
	require.NotNil(t, d.Stuck)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))
}
