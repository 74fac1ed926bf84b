// Package scheduler implements the Wait Scheduler (C8): the single
// cooperative loop that owns every active wait job, fans out concurrent
// per-tick evaluations, and drives the capture -> diff-gate -> vision ->
// parse -> act cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alxdofficial/openclaw-memoriesai/internal/capture"
	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/diffgate"
	"github.com/alxdofficial/openclaw-memoriesai/internal/display"
	"github.com/alxdofficial/openclaw-memoriesai/internal/journal"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
	"github.com/alxdofficial/openclaw-memoriesai/internal/poller"
	"github.com/alxdofficial/openclaw-memoriesai/internal/vision"
	"github.com/alxdofficial/openclaw-memoriesai/internal/waitjob"
	"github.com/alxdofficial/openclaw-memoriesai/internal/wakesink"
)

// tracer emits spans around one scheduler evaluation tick and its vision
// call; it is the global provider's tracer, a no-op unless
// internal/tracing.New wired a real exporter (the ambient tracing
// stack, wired in internal/tracing).
var tracer = otel.Tracer("waitkeeper/scheduler")

// jobRuntime holds the per-job component instances the data model itself
// doesn't carry: the pixel-diff gate and adaptive poller are algorithmic
// state, not persisted fields.
type jobRuntime struct {
	gate   *diffgate.Gate
	poller poller.Poller
}

// FrameSource captures one frame for a job's target. displayFrameSource is
// the real implementation, wrapping the Display Manager's cached connection
// and internal/capture's X11 calls; tests substitute a fake that yields
// scripted frames without a real X server or display subprocess.
type FrameSource interface {
	Capture(ctx context.Context, job *waitjob.Job) *diffgate.Image
}

// displayFrameSource is the production FrameSource: it resolves a cached
// display connection and dispatches to CaptureDisplay/CaptureWindow,
// resolving a named-window target on first use.
type displayFrameSource struct {
	displays *display.Manager
}

func (d *displayFrameSource) Capture(ctx context.Context, job *waitjob.Job) *diffgate.Image {
	conn, err := d.displays.GetConnection(ctx, job.DisplayString)
	if err != nil {
		log.Warn(log.CatScheduler, "display connection failed", "jobId", job.ID, "display", job.DisplayString, "error", err)
		return nil
	}

	switch job.TargetKind {
	case waitjob.TargetWindow:
		winID, ok := resolveWindow(conn, job)
		if !ok {
			return nil
		}
		return capture.CaptureWindow(conn, winID)
	default:
		return capture.CaptureDisplay(conn)
	}
}

// resolveWindow implements the window-id resolution rule: numeric
// target_id is used directly, otherwise FindWindowByName is tried every
// tick until it succeeds or the job times out. A resolved id is cached on
// the job so later ticks skip the lookup.
func resolveWindow(conn *capture.Conn, job *waitjob.Job) (uint32, bool) {
	if job.HasResolvedID {
		return uint32(job.ResolvedWinID), true
	}
	id, ok := capture.ResolveTarget(conn, job.TargetID)
	if !ok {
		return 0, false
	}
	job.ResolvedWinID = int(id)
	job.HasResolvedID = true
	return id, true
}

// Scheduler is the Wait Scheduler (C8): a map from job id to Job, an
// event-like wake primitive, and a running flag.
type Scheduler struct {
	cfg      config.Config
	displays *display.Manager
	frames   FrameSource
	vision   vision.Backend
	journal  *journal.Journal
	sink     wakesink.Sink

	mu       sync.Mutex
	jobs     map[string]*waitjob.Job
	runtimes map[string]*jobRuntime
	running  bool
	wake     chan struct{}

	captureMu  sync.Mutex
	captureMus map[string]*sync.Mutex
}

// New returns a Scheduler wired to its collaborators. It starts no
// goroutine until the first AddJob.
func New(cfg config.Config, displays *display.Manager, backend vision.Backend, j *journal.Journal, sink wakesink.Sink) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		displays:   displays,
		vision:     backend,
		journal:    j,
		sink:       sink,
		jobs:       make(map[string]*waitjob.Job),
		runtimes:   make(map[string]*jobRuntime),
		wake:       make(chan struct{}, 1),
		captureMus: make(map[string]*sync.Mutex),
	}
	if displays != nil {
		s.frames = &displayFrameSource{displays: displays}
	}
	return s
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// newRuntime builds a fresh diff gate and poller for a job. base overrides
// config.PollerConfig.Base when the job supplied its own poll_interval (the
// job's durable "base poll interval" field, set at submit time; a wait
// update does not change it); zero means "use the configured base".
func (s *Scheduler) newRuntime(base time.Duration) *jobRuntime {
	g := diffgate.New(s.cfg.DiffGate.MaxWidth, s.cfg.DiffGate.IntensityThreshold, s.cfg.DiffGate.RatioThreshold)
	if base <= 0 {
		base = s.cfg.Poller.Base
	}
	var p poller.Poller
	if s.cfg.Poller.Adaptive {
		p = poller.NewAdaptive(base, s.cfg.Poller.Min, s.cfg.Poller.Max, s.cfg.Poller.StaticStreakSlowdown)
	} else {
		p = poller.NewFixed(base)
	}
	return &jobRuntime{gate: g, poller: p}
}

// SubmitRequest is the Go-level shape of a submit-wait request,
// with `target` already split into kind/id.
type SubmitRequest struct {
	TargetKind   waitjob.TargetKind
	TargetID     string // "full" for a whole-screen wait, else a window id/name
	Condition    string // wake_when
	Timeout      time.Duration
	PollInterval time.Duration // zero means use the configured base
	TaskID       string        // empty when unlinked
}

// Submit is the composition a submit-wait operation needs: it
// generates a job id, resolves the job's display string from the task (or
// the Display Manager's default), records the wait job's creation in the
// journal if linked to a task, builds the runtime Job, and hands it to
// AddJob. This is the one place a fresh wait-job id is minted
// (github.com/google/uuid).
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*waitjob.Job, error) {
	id := uuid.NewString()

	var displayString string
	if s.displays != nil {
		displayString = s.displays.GetDisplayString(req.TaskID)
	}

	deadline := req.Timeout
	if deadline <= 0 {
		deadline = s.cfg.Scheduler.DefaultTimeout
	}

	if s.journal != nil && req.TaskID != "" {
		taskID := req.TaskID
		if err := s.journal.OnWaitCreated(id, &taskID, string(req.TargetKind), req.TargetID, req.Condition, displayString); err != nil {
			return nil, fmt.Errorf("recording wait job %s: %w", id, err)
		}
	}

	job := &waitjob.Job{
		ID:            id,
		TaskID:        req.TaskID,
		TargetKind:    req.TargetKind,
		TargetID:      req.TargetID,
		Condition:     req.Condition,
		Deadline:      deadline,
		BasePoll:      req.PollInterval,
		Status:        waitjob.StatusWatching,
		CreatedAt:     time.Now(),
		DisplayString: displayString,
	}
	s.AddJob(ctx, job)
	return job, nil
}

// AddJob inserts job, marks it due immediately, signals the wake
// primitive, and starts the main loop if it is not already running.
func (s *Scheduler) AddJob(ctx context.Context, job *waitjob.Job) {
	job.DueNow()
	if job.Context == nil {
		job.Context = waitjob.NewJobContext(s.cfg.Scheduler.ContextFrameCap, s.cfg.Scheduler.ContextVerdictCap, time.Now())
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.runtimes[job.ID] = s.newRuntime(job.BasePoll)
	start := !s.running
	if start {
		s.running = true
	}
	s.mu.Unlock()

	s.signalWake()
	if start {
		log.SafeGo("scheduler-loop", func() { s.run(ctx) })
	}
}

// ErrJobNotFound is returned by UpdateJob when jobID names no active job.
var ErrJobNotFound = errors.New("scheduler: job not found")

// UpdateJob implements the wait-update request: it rebinds the job's
// condition when wakeWhen is non-nil, resets the deadline when timeout is
// non-nil (restarting the elapsed-time anchor either way so the new
// deadline is measured from now), and unconditionally resets the job's
// diff gate, poller, and rolling context before marking it due immediately.
// Returns ErrJobNotFound if jobID is not an active job.
func (s *Scheduler) UpdateJob(jobID string, wakeWhen *string, timeout *time.Duration) (*waitjob.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}

	if wakeWhen != nil {
		job.Condition = *wakeWhen
	}
	if timeout != nil {
		job.Deadline = *timeout
	}
	now := time.Now()
	job.CreatedAt = now
	job.PartialStreak = 0
	job.Context = waitjob.NewJobContext(s.cfg.Scheduler.ContextFrameCap, s.cfg.Scheduler.ContextVerdictCap, now)
	s.runtimes[jobID] = s.newRuntime(job.BasePoll)
	job.DueNow()
	s.mu.Unlock()

	s.signalWake()
	return job, nil
}

// CancelJob removes jobID if present, stamps it cancelled with reason, and
// finalizes it the same way a Timeout or Resolved job is finalized.
// Idempotent on unknown ids.
func (s *Scheduler) CancelJob(jobID, reason string) *waitjob.Job {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
		delete(s.runtimes, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.terminate(job, waitjob.StatusCancelled, reason)
	return job
}

// run is the scheduler's main loop: while the job map is non-empty, it
// evaluates every overdue job concurrently, then recomputes the next
// deadline.
func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		now := time.Now()
		var overdue []*waitjob.Job
		var earliest time.Time
		for _, job := range s.jobs {
			if !job.NextCheckAt.After(now) {
				overdue = append(overdue, job)
			} else if earliest.IsZero() || job.NextCheckAt.Before(earliest) {
				earliest = job.NextCheckAt
			}
		}
		empty := len(s.jobs) == 0
		s.mu.Unlock()

		if empty {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}

		if len(overdue) == 0 {
			wait := time.Until(earliest)
			if wait < 0 {
				wait = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			case <-s.wake:
			}
			continue
		}

		var wg sync.WaitGroup
		for _, job := range overdue {
			wg.Add(1)
			jobCopy := job
			log.SafeGo("scheduler-evaluate", func() {
				defer wg.Done()
				s.evaluateJob(ctx, jobCopy)
			})
		}
		wg.Wait()
	}
}

// evaluateJob runs a single job's evaluation sequence, the
// twelve numbered steps.
func (s *Scheduler) evaluateJob(ctx context.Context, job *waitjob.Job) {
	ctx, span := tracer.Start(ctx, "scheduler.evaluate")
	span.SetAttributes(attribute.String("wait.job_id", job.ID))
	defer span.End()

	s.mu.Lock()
	_, stillPresent := s.jobs[job.ID]
	rt := s.runtimes[job.ID]
	s.mu.Unlock()
	if !stillPresent || rt == nil {
		return // step 1: cancelled between snapshot and dispatch
	}

	now := time.Now()
	if job.Elapsed(now) >= job.Deadline {
		s.terminate(job, waitjob.StatusTimeout, fmt.Sprintf("timed out waiting: %s", job.Condition))
		return
	}

	img := s.captureFrame(ctx, job)
	if img == nil {
		s.reschedule(job, rt)
		return
	}

	if !rt.gate.Observe(img) && now.Sub(job.LastVisionAt) < s.cfg.Scheduler.MaxStaticSeconds {
		rt.poller.OnNoChange()
		s.reschedule(job, rt)
		return
	}

	frame, err := capture.ToFrame(img,
		s.cfg.Capture.MaxDim, s.cfg.Capture.Quality,
		s.cfg.Capture.ThumbnailMaxDim, s.cfg.Capture.ThumbnailQuality, now)
	if err != nil {
		log.ErrorErr(log.CatScheduler, "frame encode failed", err, "jobId", job.ID)
		s.reschedule(job, rt)
		return
	}
	job.Context.AddFrame(frame)
	job.LastFrame = frame

	job.LastVisionAt = now
	prompt := job.Context.BuildPrompt(job.Condition, now)

	visionCtx, visionSpan := tracer.Start(ctx, "scheduler.vision_evaluate")
	visionCtx, cancel := context.WithTimeout(visionCtx, s.cfg.Vision.Timeout)
	reply, err := s.vision.Evaluate(visionCtx, prompt.Text, prompt.Images)
	cancel()
	visionSpan.End()
	if err != nil {
		log.Warn(log.CatScheduler, "vision call failed, treating as transient miss", "jobId", job.ID, "error", err)
		s.reschedule(job, rt)
		return
	}

	verdict := waitjob.ParseVerdict(reply, s.cfg.Vision.ResolveThreshold, now)
	job.Context.AddVerdict(verdict)
	s.logVerdict(job, verdict)

	switch verdict.Label {
	case waitjob.LabelResolved:
		s.terminate(job, waitjob.StatusResolved, verdict.Description)
		return
	case waitjob.LabelPartial:
		job.PartialStreak++
		if job.PartialStreak >= s.cfg.Scheduler.PartialStreakResolve {
			desc := fmt.Sprintf("[promoted from %dx PARTIAL] %s", job.PartialStreak, verdict.Description)
			s.terminate(job, waitjob.StatusResolved, desc)
			return
		}
		rt.poller.OnPartial()
	default:
		job.PartialStreak = 0
		rt.poller.OnChangeNoMatch()
	}

	s.reschedule(job, rt)
}

// wakeMessage renders a terminal wait job as the wake-event text shape
// named format: "[smart_wait resolved] Job <id>: <criteria> → <desc>"
// on resolution, "[smart_wait timeout] Job <id>: <criteria> — <desc>" on
// timeout, and the same em-dash shape for any other terminal status.
func wakeMessage(jobID, condition string, status waitjob.Status, desc string) string {
	sep := "—" // em dash
	if status == waitjob.StatusResolved {
		sep = "→" // right arrow
	}
	return fmt.Sprintf("[smart_wait %s] Job %s: %s %s %s", status, jobID, condition, sep, desc)
}

func (s *Scheduler) reschedule(job *waitjob.Job, rt *jobRuntime) {
	job.NextCheckAt = time.Now().Add(rt.poller.Interval())
}

// logVerdict asynchronously appends a verdict line to the task journal if
// the job is linked to a task.
func (s *Scheduler) logVerdict(job *waitjob.Job, v waitjob.Verdict) {
	if job.TaskID == "" || s.journal == nil {
		return
	}
	taskID := job.TaskID
	log.SafeGo("scheduler-journal-verdict", func() {
		body := fmt.Sprintf("[%s] %s: %s", job.ID, v.Label, v.Description)
		if err := s.journal.RecordMessage(taskID, "wait", body); err != nil {
			log.ErrorErr(log.CatJournal, "verdict log write failed", err, "jobId", job.ID)
		}
	})
}

// captureFrame acquires the per-display capture mutex, captures a frame via
// s.frames, and releases. Returns nil on any transient failure, including
// an unresolved window-id target or an unconfigured frame source.
func (s *Scheduler) captureFrame(ctx context.Context, job *waitjob.Job) *diffgate.Image {
	mu := s.captureMutexFor(job.DisplayString)
	mu.Lock()
	defer mu.Unlock()

	if s.frames == nil {
		return nil
	}
	return s.frames.Capture(ctx, job)
}

func (s *Scheduler) captureMutexFor(displayString string) *sync.Mutex {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	mu, ok := s.captureMus[displayString]
	if !ok {
		mu = &sync.Mutex{}
		s.captureMus[displayString] = mu
	}
	return mu
}

// terminate handles the shared Timeout/Resolved/Cancelled tail of the
// remove from the map, persist the terminal row, save the last
// frame, call the journal's wait-finished hook, and emit a wake event.
func (s *Scheduler) terminate(job *waitjob.Job, status waitjob.Status, resultDesc string) {
	s.mu.Lock()
	delete(s.jobs, job.ID)
	delete(s.runtimes, job.ID)
	s.mu.Unlock()

	job.Status = status
	job.ResultDesc = resultDesc
	job.ResolvedAt = time.Now()

	refs := s.saveScreenshots(job)
	if refs != "" {
		resultDesc = resultDesc + " " + refs
	}

	if s.journal != nil {
		var taskID *string
		if job.TaskID != "" {
			taskID = &job.TaskID
		}
		if err := s.journal.OnWaitFinished(job.ID, taskID, string(status), resultDesc); err != nil {
			log.ErrorErr(log.CatJournal, "wait job finalize write failed", err, "jobId", job.ID)
		}
	}

	if s.sink != nil {
		s.sink.Emit(wakeMessage(job.ID, job.Condition, status, resultDesc))
	}

	log.Info(log.CatScheduler, "job terminated", "jobId", job.ID, "status", status)
}

// saveScreenshots writes the job's last captured frame to
// cfg.Scheduler.ScreenshotsDir as a full/thumbnail pair keyed by job id and
// role "after" (the terminal-path bullet list), returning a
// short reference string for the journal row.
func (s *Scheduler) saveScreenshots(job *waitjob.Job) string {
	if job.LastFrame == nil || s.cfg.Scheduler.ScreenshotsDir == "" {
		return ""
	}
	dir := s.cfg.Scheduler.ScreenshotsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.ErrorErr(log.CatScheduler, "screenshot dir creation failed", err, "dir", dir)
		return ""
	}

	fullPath := filepath.Join(dir, job.ID+"_after.jpg")
	if err := os.WriteFile(fullPath, job.LastFrame.Full, 0o644); err != nil {
		log.ErrorErr(log.CatScheduler, "screenshot write failed", err, "path", fullPath)
		return ""
	}

	ref := fmt.Sprintf("[screenshot: %s]", fullPath)
	if len(job.LastFrame.Thumbnail) > 0 {
		thumbPath := filepath.Join(dir, job.ID+"_after_thumb.jpg")
		if err := os.WriteFile(thumbPath, job.LastFrame.Thumbnail, 0o644); err == nil {
			ref = fmt.Sprintf("[screenshots: %s, %s]", fullPath, thumbPath)
		}
	}
	return ref
}
