package vision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

func TestNew_UnknownBackendErrors(t *testing.T) {
	_, err := New(config.VisionConfig{Backend: "not-a-real-backend"})

	require.Error(t, err)
}

func TestNew_PassthroughNeverErrors(t *testing.T) {
	b, err := New(config.VisionConfig{Backend: "passthrough"})

	require.NoError(t, err)
	reply, err := b.Evaluate(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Contains(t, reply, "watching")
}

func TestPassthrough_ScriptedReplies(t *testing.T) {
	p := &Passthrough{Replies: []string{"NO: nothing", "YES: done"}}

	first, _ := p.Evaluate(context.Background(), "", nil)
	second, _ := p.Evaluate(context.Background(), "", nil)
	third, _ := p.Evaluate(context.Background(), "", nil)

	assert.Equal(t, "NO: nothing", first)
	assert.Equal(t, "YES: done", second)
	assert.Contains(t, third, "passthrough stub")
}

func TestCachedHealth_MemoizesWithinTTL(t *testing.T) {
	inner := &countingHealthBackend{Passthrough: NewPassthrough()}
	cached := NewCachedHealth(inner, 50*time.Millisecond)

	cached.Health(context.Background())
	cached.Health(context.Background())

	assert.Equal(t, 1, inner.healthCalls)
}

func TestCachedHealth_RefreshesAfterTTL(t *testing.T) {
	inner := &countingHealthBackend{Passthrough: NewPassthrough()}
	cached := NewCachedHealth(inner, 10*time.Millisecond)

	cached.Health(context.Background())
	time.Sleep(30 * time.Millisecond)
	cached.Health(context.Background())

	assert.Equal(t, 2, inner.healthCalls)
}

type countingHealthBackend struct {
	*Passthrough
	healthCalls int
}

func (c *countingHealthBackend) Health(ctx context.Context) Health {
	c.healthCalls++
	return c.Passthrough.Health(ctx)
}
