package wakesink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

func TestMemorySinkRecordsOrder(t *testing.T) {
	s := NewMemorySink()
	s.Emit("first")
	s.Emit("second")

	require.Equal(t, []string{"first", "second"}, s.Emitted)
}

func TestCommandSinkSatisfiesSink(t *testing.T) {
	cfg := config.WakeSinkConfig{
		Command:        "true",
		Timeout:        time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	}
	var _ Sink = New(cfg)
}
