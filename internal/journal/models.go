package journal

import (
	"encoding/json"
	"time"
)

// Status vocabularies. Normalization maps "canceled" to
// "cancelled" on every ingress.

type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// NormalizeStatus canonicalizes the "canceled"/"cancelled" alias; every
// other value passes through unchanged.
func NormalizeStatus(s string) string {
	if s == "canceled" {
		return "cancelled"
	}
	return s
}

type PlanItemStatus string

const (
	PlanPending   PlanItemStatus = "pending"
	PlanActive    PlanItemStatus = "active"
	PlanCompleted PlanItemStatus = "completed"
	PlanFailed    PlanItemStatus = "failed"
	PlanSkipped   PlanItemStatus = "skipped"
)

func (s PlanItemStatus) IsTerminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanSkipped:
		return true
	default:
		return false
	}
}

type ActionStatus string

const (
	ActionStarted   ActionStatus = "started"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ActionKind is the tagged-variant discriminator for an Action's
// input/output payload shape.
type ActionKind string

const (
	ActionWait      ActionKind = "wait"
	ActionGUI       ActionKind = "gui"
	ActionCLI       ActionKind = "cli"
	ActionReasoning ActionKind = "reasoning"
	ActionRecording ActionKind = "recording"
)

// Metadata is a task's opaque JSON metadata, restricted to the small fixed
// set of keys this repo recognizes.
type Metadata struct {
	DisplayString    string     `json:"display_string,omitempty"`
	DisplaySlot      int        `json:"display_slot,omitempty"`
	Resolution       string     `json:"resolution,omitempty"`
	ActiveWaitIDs    []string   `json:"active_wait_ids,omitempty"`
	LastWaitState    string     `json:"last_wait_state,omitempty"`
	LastWaitEventAt  *time.Time `json:"last_wait_event_at,omitempty"`
	LastStuckAlertAt *time.Time `json:"last_stuck_alert_at,omitempty"`
}

func (m Metadata) marshal() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMetadata(raw string) Metadata {
	var m Metadata
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// Task is the row model for the tasks table.
type Task struct {
	ID        string
	Name      string
	Status    TaskStatus
	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlanItem is the row model for the plan_items table.
type PlanItem struct {
	ID          int64
	TaskID      string
	Ordinal     int
	Title       string
	Status      PlanItemStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    *float64 // seconds
}

// Action is the row model for the actions table.
type Action struct {
	ID         string
	TaskID     string
	PlanItemID *int64
	Kind       ActionKind
	Summary    string
	Status     ActionStatus
	InputData  *string // JSON, validated per Kind on ingress
	OutputData *string
	CreatedAt  time.Time
}

// ActionLog is the row model for the action_logs table.
type ActionLog struct {
	ID        int64
	ActionID  string
	Note      string
	CreatedAt time.Time
}

// TaskMessage is the row model for the task_messages table — a flat
// per-task activity feed.
type TaskMessage struct {
	ID        int64
	TaskID    string
	Kind      string // "wait", "stuck", "reasoning", "query", "progress"
	Body      string
	CreatedAt time.Time
}

// WaitJobRow is the row model for the wait_jobs table.
type WaitJobRow struct {
	ID            string
	TaskID        *string
	TargetKind    string
	TargetID      string
	Condition     string
	Status        string
	ResultDesc    *string
	DisplayString *string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
