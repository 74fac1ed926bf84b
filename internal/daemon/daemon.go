// Package daemon wires the wait-engine components into one process: the
// Display Manager, Vision Backend, Wait Scheduler, Task Journal, Stuck
// Detector, and Wake Sink, built once at startup by a constructor
// sequence and torn down once on shutdown in reverse dependency order.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/display"
	"github.com/alxdofficial/openclaw-memoriesai/internal/journal"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
	"github.com/alxdofficial/openclaw-memoriesai/internal/scheduler"
	"github.com/alxdofficial/openclaw-memoriesai/internal/stuckdetector"
	"github.com/alxdofficial/openclaw-memoriesai/internal/tracing"
	"github.com/alxdofficial/openclaw-memoriesai/internal/vision"
	"github.com/alxdofficial/openclaw-memoriesai/internal/wakesink"
)

// Daemon owns every long-lived wait-engine component. There is exactly one
// per process, explicitly constructed by New and explicitly torn down by
// Shutdown — no package-level singletons.
type Daemon struct {
	cfg config.Config

	Displays  *display.Manager
	Vision    vision.Backend
	Journal   *journal.Journal
	Sink      wakesink.Sink
	Scheduler *scheduler.Scheduler
	Stuck     *stuckdetector.Detector
	Tracing   *tracing.Provider
}

// New constructs every component in dependency order: the tracing provider
// first (so every other component can pull its tracer), then the journal
// (the others write to it), then the display manager and vision backend,
// then the scheduler and stuck detector that depend on all three.
func New(cfg config.Config) (*Daemon, error) {
	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracing provider: %w", err)
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	displays, err := display.New(cfg.Display)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("creating display manager: %w", err)
	}

	backend, err := vision.New(cfg.Vision)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("creating vision backend: %w", err)
	}
	if cfg.Vision.HealthCacheTTL > 0 {
		backend = vision.NewCachedHealth(backend, cfg.Vision.HealthCacheTTL)
	}

	sink := wakesink.New(cfg.WakeSink)

	sched := scheduler.New(cfg, displays, backend, j, sink)
	stuck := stuckdetector.New(cfg.StuckDetector, j, sink)

	return &Daemon{
		cfg:       cfg,
		Displays:  displays,
		Vision:    backend,
		Journal:   j,
		Sink:      sink,
		Scheduler: sched,
		Stuck:     stuck,
		Tracing:   tracer,
	}, nil
}

// RegisterTask composes Journal.RegisterTaskWithPlan with the Display
// Manager: when allocateDisplay is set, it allocates a display before the
// task is registered so the task's metadata can record the resulting
// display string and slot from the start. A display allocation failure is
// surfaced to the caller but does not abort registration — the task
// proceeds on the Display Manager's default display.
func (d *Daemon) RegisterTask(ctx context.Context, id, name string, plan []string, allocateDisplay bool, width, height int) (*journal.Task, error) {
	meta := journal.Metadata{}
	var allocErr error
	if allocateDisplay {
		info, err := d.Displays.Allocate(ctx, id, width, height)
		if err != nil {
			allocErr = fmt.Errorf("allocating display for task %s: %w", id, err)
			log.ErrorErr(log.CatDisplay, "task display allocation failed, proceeding on default display", err, "task", id)
		} else {
			meta.DisplayString = info.DisplayString
			meta.DisplaySlot = info.Slot
			meta.Resolution = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
	}

	t, err := d.Journal.RegisterTaskWithPlan(id, name, plan, meta)
	if err != nil {
		return nil, err
	}
	return t, allocErr
}

// UpdateTask composes Journal.UpdateTaskFull with the Display Manager: a
// terminal status transition releases the task's allocated display.
func (d *Daemon) UpdateTask(id string, opts journal.UpdateTaskOpts) (*journal.Task, error) {
	t, err := d.Journal.UpdateTaskFull(id, opts)
	if err != nil {
		return nil, err
	}
	if isTerminalTaskStatus(t.Status) {
		d.Displays.Release(id)
	}
	return t, nil
}

func isTerminalTaskStatus(s journal.TaskStatus) bool {
	switch s {
	case journal.TaskCompleted, journal.TaskFailed, journal.TaskCancelled:
		return true
	default:
		return false
	}
}

// Start kicks off the background loops that don't start lazily (the
// scheduler starts itself on the first AddJob; the stuck detector must be
// started explicitly since it runs regardless of job activity).
func (d *Daemon) Start(ctx context.Context) {
	d.Stuck.Start(ctx)
	log.Info(log.CatConfig, "daemon started")
}

// Shutdown tears every component down in reverse dependency order: stop
// the stuck detector loop, release every allocated display, then close the
// journal. Bounded by ctx's deadline.
func (d *Daemon) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.Stuck.Stop()
		d.Displays.CleanupAll()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn(log.CatConfig, "daemon shutdown timed out waiting for components")
	case <-time.After(30 * time.Second):
		log.Warn(log.CatConfig, "daemon shutdown exceeded fallback deadline")
	}

	if err := d.Journal.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}

	if err := d.Tracing.Shutdown(ctx); err != nil {
		log.Warn(log.CatConfig, "tracing provider shutdown failed", "error", err.Error())
	}

	log.Info(log.CatConfig, "daemon stopped")
	return nil
}
