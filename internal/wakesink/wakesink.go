// Package wakesink implements the Wake Sink (C11): the side-channel that
// delivers resolution/timeout/stuck text payloads back to the outer agent
// by spawning an external command, asynchronously from the scheduler's
// perspective, with a bounded wait and kill-on-timeout.
package wakesink

import (
	"context"
	"os/exec"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

// Sink is the single operation the scheduler and stuck detector use to
// hand a message off to the outer agent.
type Sink interface {
	Emit(message string)
}

// CommandSink spawns cfg.Command with message as its sole argument. A
// failed emission is retried per cfg.MaxRetries/InitialBackoff and, if it
// still fails, logged and dropped — it never surfaces as an error to the
// scheduler.
type CommandSink struct {
	cfg config.WakeSinkConfig
}

// New returns a CommandSink configured by cfg.
func New(cfg config.WakeSinkConfig) *CommandSink {
	return &CommandSink{cfg: cfg}
}

// Emit runs asynchronously; callers do not block on delivery.
func (s *CommandSink) Emit(message string) {
	log.SafeGo("wake-sink-emit", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.cfg.InitialBackoff
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.runOnce(ctx, message)
		}, backoff.WithMaxTries(uint(s.cfg.MaxRetries)+1),
			backoff.WithBackOff(b))
		if err != nil {
			log.ErrorErr(log.CatWake, "wake emission failed after retries", err, "message", message)
		}
	})
}

func (s *CommandSink) runOnce(ctx context.Context, message string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.cfg.Command, message)
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		<-done
		return runCtx.Err()
	}
}

// MemorySink records every Emit call in order, for tests that need to
// assert on wake events without spawning a process.
type MemorySink struct {
	mu      sync.Mutex
	Emitted []string
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Emitted = append(s.Emitted, message)
}

var _ Sink = (*CommandSink)(nil)
var _ Sink = (*MemorySink)(nil)
