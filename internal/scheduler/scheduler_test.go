package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/diffgate"
	"github.com/alxdofficial/openclaw-memoriesai/internal/journal"
	"github.com/alxdofficial/openclaw-memoriesai/internal/vision"
	"github.com/alxdofficial/openclaw-memoriesai/internal/waitjob"
	"github.com/alxdofficial/openclaw-memoriesai/internal/wakesink"
)

// scriptedFrameSource replays a fixed sequence of images, one per Capture
// call, repeating the last image once the script is exhausted. It lets
// tests drive the real AddJob -> run loop -> evaluateJob cycle without a
// live X server.
type scriptedFrameSource struct {
	mu     sync.Mutex
	images []*diffgate.Image
	calls  int
}

func (f *scriptedFrameSource) Capture(_ context.Context, _ *waitjob.Job) *diffgate.Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.images) {
		idx = len(f.images) - 1
	}
	f.calls++
	return f.images[idx]
}

// scriptedVisionBackend replays a fixed sequence of replies, one per
// Evaluate call, repeating the last reply once exhausted.
type scriptedVisionBackend struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (v *scriptedVisionBackend) Evaluate(_ context.Context, _ string, _ [][]byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := v.calls
	if idx >= len(v.replies) {
		idx = len(v.replies) - 1
	}
	v.calls++
	return v.replies[idx], nil
}

func (v *scriptedVisionBackend) Health(_ context.Context) vision.Health {
	return vision.Health{OK: true}
}

// solidImage returns a w x h image whose every pixel is (r, g, b).
func solidImage(w, h int, r, g, b byte) *diffgate.Image {
	pix := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = r
		pix[i*3+1] = g
		pix[i*3+2] = b
	}
	return &diffgate.Image{Width: w, Height: h, Pix: pix}
}

func newTestScheduler(t *testing.T) (*Scheduler, *journal.Journal, *wakesink.MemorySink) {
	t.Helper()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	sink := wakesink.NewMemorySink()
	cfg := config.Defaults()
	s := New(cfg, nil, nil, j, sink)
	return s, j, sink
}

func TestCancelJobOnUnknownIDIsNoop(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	require.Nil(t, s.CancelJob("does-not-exist", "nothing to cancel"))
}

func TestCancelJobFinalizesAndEmits(t *testing.T) {
	s, j, sink := newTestScheduler(t)
	_, err := j.RegisterTask("task-1", "wait for something")
	require.NoError(t, err)
	require.NoError(t, j.OnWaitCreated("wait-1", strPtr("task-1"), "screen", "0", "screen turns blue", ":1"))

	job := &waitjob.Job{
		ID:       "wait-1",
		TaskID:   "task-1",
		Status:   waitjob.StatusWatching,
		Deadline: time.Minute,
		Context:  waitjob.NewJobContext(4, 3, time.Now()),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.runtimes[job.ID] = s.newRuntime(job.BasePoll)
	s.mu.Unlock()

	cancelled := s.CancelJob("wait-1", "task abandoned")
	require.NotNil(t, cancelled)
	require.Equal(t, waitjob.StatusCancelled, cancelled.Status)
	require.Len(t, sink.Emitted, 1)

	task, err := j.GetSummary("task-1", journal.DetailItems)
	require.NoError(t, err)
	require.NotContains(t, task.Task.Metadata.ActiveWaitIDs, "wait-1")
}

func TestEvaluateJobTerminatesOnTimeoutWithoutCapture(t *testing.T) {
	s, j, sink := newTestScheduler(t)
	_, err := j.RegisterTask("task-1", "wait for something")
	require.NoError(t, err)
	require.NoError(t, j.OnWaitCreated("wait-1", strPtr("task-1"), "screen", "0", "screen turns blue", ":1"))

	job := &waitjob.Job{
		ID:        "wait-1",
		TaskID:    "task-1",
		Status:    waitjob.StatusWatching,
		CreatedAt: time.Now().Add(-time.Hour),
		Deadline:  time.Minute,
		Context:   waitjob.NewJobContext(4, 3, time.Now()),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.runtimes[job.ID] = s.newRuntime(job.BasePoll)
	s.mu.Unlock()

	s.evaluateJob(context.Background(), job)

	require.Equal(t, waitjob.StatusTimeout, job.Status)
	s.mu.Lock()
	_, stillTracked := s.jobs[job.ID]
	s.mu.Unlock()
	require.False(t, stillTracked)
	require.Len(t, sink.Emitted, 1)
}

// newFastTestScheduler builds a Scheduler with tight poll bounds (so tests
// don't wait out real adaptive-poller intervals) and wires the given
// scripted frame source and vision backend behind the FrameSource/
// vision.Backend seams, in place of a live display connection.
func newFastTestScheduler(t *testing.T, frames *scriptedFrameSource, vis *scriptedVisionBackend) (*Scheduler, *journal.Journal, *wakesink.MemorySink) {
	t.Helper()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	sink := wakesink.NewMemorySink()
	cfg := config.Defaults()
	cfg.Poller.Base = time.Millisecond
	cfg.Poller.Min = time.Millisecond
	cfg.Poller.Max = 5 * time.Millisecond
	cfg.Scheduler.MaxStaticSeconds = time.Hour // never force-skip in these scripts
	cfg.Scheduler.ScreenshotsDir = t.TempDir()

	s := New(cfg, nil, vis, j, sink)
	s.frames = frames
	return s, j, sink
}

// TestHappyPathResolvesAndSavesScreenshot drives end-to-end scenario 1 from
// spec.md §8: the first frame reaches the vision backend and gets NO, an
// identical frame is gated out (no vision call), the changed frame gets a
// resolving FINAL_JSON, and the job terminates resolved with a saved
// screenshot and one wake event.
func TestHappyPathResolvesAndSavesScreenshot(t *testing.T) {
	f0 := solidImage(8, 8, 0, 0, 0)
	f1 := solidImage(8, 8, 0, 0, 0) // identical to f0: gated out, no vision call
	f2 := solidImage(8, 8, 255, 255, 255)

	frames := &scriptedFrameSource{images: []*diffgate.Image{f0, f1, f2}}
	vis := &scriptedVisionBackend{replies: []string{
		"NO: dialog still visible",
		`Looks closed. FINAL_JSON: {"decision": "resolved", "confidence": 0.9, "evidence": ["dialog gone"], "summary": "dialog closed"}`,
	}}
	s, j, sink := newFastTestScheduler(t, frames, vis)
	_, err := j.RegisterTask("task-1", "wait for something")
	require.NoError(t, err)

	job := &waitjob.Job{
		ID:         "wait-1",
		TaskID:     "task-1",
		TargetKind: waitjob.TargetScreen,
		TargetID:   "full",
		Condition:  "dialog closed",
		Deadline:   time.Minute,
		CreatedAt:  time.Now(),
	}
	s.AddJob(context.Background(), job)

	require.Eventually(t, func() bool {
		return len(sink.Emitted) == 1
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, waitjob.StatusResolved, job.Status)
	require.Contains(t, sink.Emitted[0], "[smart_wait resolved]")

	fullPath := filepath.Join(s.cfg.Scheduler.ScreenshotsDir, job.ID+"_after.jpg")
	_, statErr := os.Stat(fullPath)
	require.NoError(t, statErr, "expected screenshot file %s", fullPath)
}

// TestPartialStreakPromotesToResolved drives end-to-end scenario 3: two
// consecutive PARTIAL verdicts (PartialStreakResolve=2) promote the job to
// resolved with the "[promoted from 2x PARTIAL]" prefix.
func TestPartialStreakPromotesToResolved(t *testing.T) {
	f0 := solidImage(8, 8, 0, 0, 0)
	f1 := solidImage(8, 8, 255, 255, 255)

	partial := `Getting there. FINAL_JSON: {"decision": "partial", "confidence": 0.5, "evidence": ["half done"], "summary": "in progress"}`
	frames := &scriptedFrameSource{images: []*diffgate.Image{f0, f1}}
	vis := &scriptedVisionBackend{replies: []string{partial, partial}}
	s, j, sink := newFastTestScheduler(t, frames, vis)
	_, err := j.RegisterTask("task-1", "wait for something")
	require.NoError(t, err)

	job := &waitjob.Job{
		ID:         "wait-1",
		TaskID:     "task-1",
		TargetKind: waitjob.TargetScreen,
		TargetID:   "full",
		Condition:  "upload finishes",
		Deadline:   time.Minute,
		CreatedAt:  time.Now(),
	}
	s.AddJob(context.Background(), job)

	require.Eventually(t, func() bool {
		return len(sink.Emitted) == 1
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, waitjob.StatusResolved, job.Status)
	require.Contains(t, job.ResultDesc, "[promoted from 2x PARTIAL]")
	require.Contains(t, sink.Emitted[0], fmt.Sprintf("Job %s", job.ID))
}

func TestUpdateJobRebindsConditionAndResetsState(t *testing.T) {
	s, j, _ := newTestScheduler(t)
	_, err := j.RegisterTask("task-1", "wait for something")
	require.NoError(t, err)
	require.NoError(t, j.OnWaitCreated("wait-1", strPtr("task-1"), "screen", "0", "screen turns blue", ":1"))

	job := &waitjob.Job{
		ID:          "wait-1",
		TaskID:      "task-1",
		Status:      waitjob.StatusWatching,
		Condition:   "screen turns blue",
		Deadline:    time.Minute,
		CreatedAt:   time.Now().Add(-30 * time.Second),
		Context:     waitjob.NewJobContext(4, 3, time.Now()),
		NextCheckAt: time.Now().Add(time.Hour),
	}
	job.Context.AddVerdict(waitjob.Verdict{Label: waitjob.LabelPartial})
	job.PartialStreak = 1
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.runtimes[job.ID] = s.newRuntime(job.BasePoll)
	s.mu.Unlock()

	newCondition := "screen turns red"
	newTimeout := 10 * time.Minute
	updated, err := s.UpdateJob("wait-1", &newCondition, &newTimeout)
	require.NoError(t, err)
	require.Equal(t, "screen turns red", updated.Condition)
	require.Equal(t, 10*time.Minute, updated.Deadline)
	require.Equal(t, 0, updated.PartialStreak)
	require.Empty(t, updated.Context.Verdicts())
	require.False(t, updated.NextCheckAt.After(time.Now()))

	_, err = s.UpdateJob("does-not-exist", nil, nil)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func strPtr(s string) *string { return &s }
