// Package waitjob holds the wait-job data model: the durable and
// runtime-only fields of a job, its rolling context window, and the
// verdict vocabulary the scheduler acts on.
package waitjob

import "time"

// Status is a wait job's terminal or live state.
type Status string

const (
	StatusWatching  Status = "watching"
	StatusResolved  Status = "resolved"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
	// StatusError is part of the canonical enum but currently unreachable:
	// no scheduler path ever terminates a job with it. See DESIGN.md.
	StatusError Status = "error"
)

// IsTerminal reports whether s is a terminal state: one of the three
// reachable ones (resolved, timeout, cancelled) or the unreachable error.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResolved, StatusTimeout, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// TargetKind distinguishes a whole-display wait from a named-window wait.
type TargetKind string

const (
	TargetScreen TargetKind = "screen"
	TargetWindow TargetKind = "window"
)

// Job is a wait job: the durable fields persisted to the journal plus the
// runtime-only fields the scheduler mutates while the job is live.
type Job struct {
	// Durable fields.
	ID            string
	TaskID        string // empty when unlinked
	TargetKind    TargetKind
	TargetID      string
	Condition     string
	Deadline      time.Duration
	BasePoll      time.Duration
	Status        Status
	ResultDesc    string
	CreatedAt     time.Time
	ResolvedAt    time.Time
	DisplayString string

	// Runtime-only fields.
	Context       *JobContext
	NextCheckAt   time.Time
	ResolvedWinID int  // 0 until a named-window target has been resolved
	HasResolvedID bool
	LastFrame     *Frame

	PartialStreak int
	LastVisionAt  time.Time
}

// Elapsed reports how long the job has been running as of now.
func (j *Job) Elapsed(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// DueNow marks the job overdue immediately, as AddJob requires.
func (j *Job) DueNow() {
	j.NextCheckAt = time.Time{}
}
