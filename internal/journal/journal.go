// Package journal persists the hierarchical Task -> PlanItem -> Action ->
// ActionLog record of agent activity (the Task Journal), plus
// the flat wait_jobs table the Wait Scheduler reads and writes.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

// NewID returns a fresh opaque id for tasks, actions, and wait jobs created
// by callers that don't already have one (e.g. the agent-facing task/action
// creation operations below). The outer HTTP surface (out of scope) may
// instead pass its own ids through unchanged.
func NewID() string {
	return uuid.NewString()
}

// tracer emits a span around OnWaitFinished, the journal write the
// scheduler performs once per terminated wait job.
var tracer = otel.Tracer("waitkeeper/journal")

// Detail selects how much of a task's history GetSummary returns.
type Detail string

const (
	// DetailItems returns just the task row and its plan items.
	DetailItems Detail = "items"
	// DetailFocused returns plan items plus the actions of the first active
	// item or, when none is active, of the last item by ordinal.
	DetailFocused Detail = "focused"
	// DetailActions returns plan items with every action, logs omitted.
	DetailActions Detail = "actions"
	// DetailFull returns the entire tree: plan items, actions, and logs.
	DetailFull Detail = "full"
)

// Journal is the Task Journal component (C9).
type Journal struct {
	store *store
}

// Open opens (creating and migrating if necessary) the SQLite-backed
// journal at path. Pass ":memory:" for an ephemeral test database.
func Open(path string) (*Journal, error) {
	st, err := openStore(path)
	if err != nil {
		return nil, err
	}
	return &Journal{store: st}, nil
}

func (j *Journal) Close() error { return j.store.Close() }

// RegisterTask creates a new task row in the active state, or returns the
// existing one unchanged if id already exists (idempotent by id, mirroring
// the Display Manager's idempotent-by-taskID Allocate).
func (j *Journal) RegisterTask(id, name string) (*Task, error) {
	if existing, err := j.store.getTask(id); err == nil {
		return existing, nil
	}

	now := time.Now().UTC()
	t := &Task{
		ID:        id,
		Name:      name,
		Status:    TaskActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := j.store.insertTask(t); err != nil {
		return nil, fmt.Errorf("registering task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies status (normalized, and rejected unless it is one of
// the TaskStatus values) and any non-nil metadata patch to task id, bumping
// updated_at.
func (j *Journal) UpdateTask(id string, status string, patch func(*Metadata)) (*Task, error) {
	t, err := j.store.getTask(id)
	if err != nil {
		return nil, fmt.Errorf("task %s not found: %w", id, err)
	}

	if status != "" {
		next := TaskStatus(NormalizeStatus(status))
		switch next {
		case TaskActive, TaskPaused, TaskCompleted, TaskFailed, TaskCancelled:
		default:
			return nil, fmt.Errorf("task %s: invalid status %q", id, status)
		}
		t.Status = next
	}
	if patch != nil {
		patch(&t.Metadata)
	}
	t.UpdatedAt = time.Now().UTC()

	if err := j.store.updateTask(t); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	return t, nil
}

// RegisterTaskWithPlan is the full form of
// "RegisterTask(name, plan[], metadata)": it creates the task (idempotent by
// id, see RegisterTask) and inserts one pending plan item per entry of plan
// at dense 0-based ordinals. metadata seeds the task's recognized
// display/resolution fields; display allocation itself is the caller's
// responsibility (composed at the daemon layer) since the
// journal has no dependency on the Display Manager.
func (j *Journal) RegisterTaskWithPlan(id, name string, plan []string, metadata Metadata) (*Task, error) {
	if existing, err := j.store.getTask(id); err == nil {
		return existing, nil
	}

	t, err := j.RegisterTask(id, name)
	if err != nil {
		return nil, err
	}

	if metadata.DisplayString != "" || metadata.DisplaySlot != 0 || metadata.Resolution != "" {
		t, err = j.UpdateTask(id, "", func(m *Metadata) {
			if metadata.DisplayString != "" {
				m.DisplayString = metadata.DisplayString
			}
			if metadata.DisplaySlot != 0 {
				m.DisplaySlot = metadata.DisplaySlot
			}
			if metadata.Resolution != "" {
				m.Resolution = metadata.Resolution
			}
		})
		if err != nil {
			return nil, err
		}
	}

	for ordinal, title := range plan {
		if _, err := j.UpsertPlanItem(id, ordinal, title, PlanPending); err != nil {
			return nil, fmt.Errorf("registering plan item %d for task %s: %w", ordinal, id, err)
		}
	}
	return t, nil
}

// UpdateTaskOpts is the `{message?, status?, query?}` patch a task-update
// wire operation applies through Journal.UpdateTaskFull.
type UpdateTaskOpts struct {
	Status  string
	Message string
	Query   string
}

// UpdateTaskFull implements the full UpdateTask: a status transition
// (enum-enforced via UpdateTask's normalization), plus a Message that is
// recorded both as a "reasoning" Action under the current active (or
// first-pending) plan item and as a task_messages row, plus a Query that is
// recorded as a task_messages row of kind "query" (no further detail is
// specified for this field, so this repo treats it as an agent-visible
// note rather than a mutating operation).
func (j *Journal) UpdateTaskFull(id string, opts UpdateTaskOpts) (*Task, error) {
	t, err := j.UpdateTask(id, opts.Status, nil)
	if err != nil {
		return nil, err
	}

	if opts.Message != "" {
		if err := j.recordReasoningAction(id, opts.Message); err != nil {
			return nil, err
		}
		if err := j.RecordMessage(id, "reasoning", opts.Message); err != nil {
			return nil, err
		}
	}

	if opts.Query != "" {
		if err := j.RecordMessage(id, "query", opts.Query); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// recordReasoningAction attaches message as a completed "reasoning" Action
// under the task's current active plan item, or its first pending item if
// none is active yet, or is dropped silently if the task has no plan items
// at all (a bare RegisterTask with no plan is valid).
func (j *Journal) recordReasoningAction(taskID, message string) error {
	items, err := j.store.listPlanItems(taskID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	target := firstActive(items)
	if target == nil {
		target = firstPending(items)
	}
	if target == nil {
		return nil
	}

	actionID := NewID()
	if _, err := j.StartAction(actionID, taskID, &target.ID, ActionReasoning, message, ""); err != nil {
		return err
	}
	return j.FinishAction(actionID, ActionCompleted, "")
}

func firstPending(items []*PlanItem) *PlanItem {
	for _, p := range items {
		if p.Status == PlanPending {
			return p
		}
	}
	return nil
}

// UpsertPlanItem inserts the item at its ordinal if absent, otherwise
// updates title/status/timing in place — plans are replanned in whole by
// the agent, not appended one item at a time.
func (j *Journal) UpsertPlanItem(taskID string, ordinal int, title string, status PlanItemStatus) (*PlanItem, error) {
	existing, err := j.store.getPlanItemByOrdinal(taskID, ordinal)
	if err == nil {
		existing.Title = title
		applyPlanTransition(existing, status)
		if err := j.store.updatePlanItem(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	p := &PlanItem{TaskID: taskID, Ordinal: ordinal, Title: title, Status: status}
	applyPlanTransition(p, status)
	if err := j.store.insertPlanItem(p); err != nil {
		return nil, fmt.Errorf("inserting plan item %s#%d: %w", taskID, ordinal, err)
	}
	return p, nil
}

// applyPlanTransition stamps started_at on first entry into active and
// completed_at/duration on first entry into a terminal status.
func applyPlanTransition(p *PlanItem, next PlanItemStatus) {
	now := time.Now().UTC()
	if next == PlanActive && p.StartedAt == nil {
		p.StartedAt = &now
	}
	if next.IsTerminal() && p.CompletedAt == nil {
		p.CompletedAt = &now
		if p.StartedAt != nil {
			d := now.Sub(*p.StartedAt).Seconds()
			p.Duration = &d
		}
	}
	p.Status = next
}

// StartAction begins a new action under taskID (and optionally a plan item),
// validating inputJSON against the shape ActionKind expects.
func (j *Journal) StartAction(id, taskID string, planItemID *int64, kind ActionKind, summary, inputJSON string) (*Action, error) {
	if err := validatePayload(kind, inputJSON); err != nil {
		return nil, fmt.Errorf("action %s: %w", id, err)
	}

	a := &Action{
		ID:         id,
		TaskID:     taskID,
		PlanItemID: planItemID,
		Kind:       kind,
		Summary:    summary,
		Status:     ActionStarted,
		CreatedAt:  time.Now().UTC(),
	}
	if inputJSON != "" {
		a.InputData = &inputJSON
	}
	if err := j.store.insertAction(a); err != nil {
		return nil, fmt.Errorf("starting action %s: %w", id, err)
	}
	return a, nil
}

// FinishAction marks an action completed or failed with its output payload.
func (j *Journal) FinishAction(id string, status ActionStatus, outputJSON string) error {
	var out *string
	if outputJSON != "" {
		out = &outputJSON
	}
	if err := j.store.updateActionStatus(id, status, out); err != nil {
		return fmt.Errorf("finishing action %s: %w", id, err)
	}
	return nil
}

// LogAction appends a free-text progress note to an in-flight action.
func (j *Journal) LogAction(actionID, note string) error {
	l := &ActionLog{ActionID: actionID, Note: note, CreatedAt: time.Now().UTC()}
	return j.store.insertActionLog(l)
}

// RecordMessage appends a row to the task's flat activity feed.
func (j *Journal) RecordMessage(taskID, kind, body string) error {
	m := &TaskMessage{TaskID: taskID, Kind: kind, Body: body, CreatedAt: time.Now().UTC()}
	return j.store.insertTaskMessage(m)
}

// validatePayload enforces the tagged-variant shape assigned to
// each ActionKind. A payload of free-form prose (reasoning) is accepted as
// is; structured kinds require a JSON object, whose fields are not checked.
// An empty payload is accepted for every known kind.
func validatePayload(kind ActionKind, raw string) error {
	if raw == "" {
		return nil
	}
	switch kind {
	case ActionWait, ActionGUI, ActionCLI, ActionRecording:
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
			return fmt.Errorf("%s action payload must be a JSON object", kind)
		}
	case ActionReasoning:
		// free-form text, any value accepted
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}
	return nil
}

// Summary is the result of GetSummary: a task's row plus as much of its
// plan/action/log tree as the requested Detail calls for.
type Summary struct {
	Task      *Task
	PlanItems []*PlanItem
	Actions   map[int64][]*Action // keyed by plan item id; unset items omit the key
	Logs      map[string][]*ActionLog
}

// GetSummary assembles a task's tree at the requested detail level
// (a read-API convenience wrapper).
func (j *Journal) GetSummary(taskID string, detail Detail) (*Summary, error) {
	t, err := j.store.getTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s not found: %w", taskID, err)
	}

	items, err := j.store.listPlanItems(taskID)
	if err != nil {
		return nil, err
	}

	s := &Summary{Task: t, PlanItems: items}
	if detail == DetailItems {
		return s, nil
	}

	targets := items
	if detail == DetailFocused {
		if active := firstActive(items); active != nil {
			targets = []*PlanItem{active}
		} else if len(items) > 0 {
			targets = items[len(items)-1:]
		} else {
			targets = nil
		}
	}

	s.Actions = make(map[int64][]*Action, len(targets))
	for _, p := range targets {
		actions, err := j.store.listActionsByPlanItem(p.ID)
		if err != nil {
			return nil, err
		}
		s.Actions[p.ID] = actions
	}

	if detail != DetailFull {
		return s, nil
	}

	s.Logs = make(map[string][]*ActionLog)
	for _, actions := range s.Actions {
		for _, a := range actions {
			logs, err := j.store.listActionLogs(a.ID)
			if err != nil {
				return nil, err
			}
			s.Logs[a.ID] = logs
		}
	}
	return s, nil
}

func firstActive(items []*PlanItem) *PlanItem {
	for _, p := range items {
		if p.Status == PlanActive {
			return p
		}
	}
	return nil
}

// DrillDown returns the full detail (actions and logs) of a single plan
// item addressed by its 0-based ordinal within taskID.
func (j *Journal) DrillDown(taskID string, ordinal int) (*PlanItem, []*Action, map[string][]*ActionLog, error) {
	p, err := j.store.getPlanItemByOrdinal(taskID, ordinal)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("task %s has no plan item #%d: %w", taskID, ordinal, err)
	}

	actions, err := j.store.listActionsByPlanItem(p.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	logs := make(map[string][]*ActionLog, len(actions))
	for _, a := range actions {
		l, err := j.store.listActionLogs(a.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		logs[a.ID] = l
	}
	return p, actions, logs, nil
}

// OnWaitCreated records a new wait job row and, if it belongs to a task,
// adds its id to that task's active_wait_ids metadata — the Stuck Detector
// reads this set to know what it must reconcile.
func (j *Journal) OnWaitCreated(id string, taskID *string, targetKind, targetID, condition, displayString string) error {
	w := &WaitJobRow{
		ID:            id,
		TaskID:        taskID,
		TargetKind:    targetKind,
		TargetID:      targetID,
		Condition:     condition,
		Status:        "watching",
		DisplayString: &displayString,
		CreatedAt:     time.Now().UTC(),
	}
	if err := j.store.insertWaitJob(w); err != nil {
		return fmt.Errorf("recording wait job %s: %w", id, err)
	}

	if taskID == nil {
		return nil
	}
	_, err := j.UpdateTask(*taskID, "", func(m *Metadata) {
		m.ActiveWaitIDs = appendUnique(m.ActiveWaitIDs, id)
	})
	return err
}

// OnWaitFinished finalizes a wait job row and removes it from its task's
// active_wait_ids, recording the terminal state for the stuck-silence clock.
func (j *Journal) OnWaitFinished(id string, taskID *string, status, resultDesc string) error {
	_, span := tracer.Start(context.Background(), "journal.on_wait_finished")
	span.SetAttributes(attribute.String("wait.job_id", id), attribute.String("wait.status", status))
	defer span.End()

	now := time.Now().UTC()
	if err := j.store.finalizeWaitJob(id, status, resultDesc, now); err != nil {
		return fmt.Errorf("finalizing wait job %s: %w", id, err)
	}

	if taskID == nil {
		return nil
	}
	_, err := j.UpdateTask(*taskID, "", func(m *Metadata) {
		m.ActiveWaitIDs = removeOne(m.ActiveWaitIDs, id)
		m.LastWaitState = status
		m.LastWaitEventAt = &now
	})
	return err
}

// RecentMessages returns the last n messages recorded for taskID, oldest
// first, for the Stuck Detector's resume-packet "last few messages" field.
func (j *Journal) RecentMessages(taskID string, n int) ([]*TaskMessage, error) {
	return j.store.lastTaskMessages(taskID, n)
}

// ActiveTasks lists tasks the Stuck Detector should consider, optionally
// filtered by status (empty means all).
func (j *Journal) ActiveTasks(status string) ([]*Task, error) {
	return j.store.listTasks(status, 0)
}

// ActiveWatchingIDs filters ids down to those wait jobs still in the
// "watching" status — the Stuck Detector's reconcile-against-the-journal
// step for a task's active wait ids.
func (j *Journal) ActiveWatchingIDs(taskID string, ids []string) ([]string, error) {
	watching, err := j.store.watchingWaitJobIDs(taskID)
	if err != nil {
		return nil, fmt.Errorf("listing watching wait jobs for task %s: %w", taskID, err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if watching[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// RecordStuckAlert stamps last_stuck_alert_at and appends the resume
// packet as a "stuck" task message, used by the Stuck Detector's
// cooldown gate.
func (j *Journal) RecordStuckAlert(taskID, resumePacket string) error {
	now := time.Now().UTC()
	if _, err := j.UpdateTask(taskID, "", func(m *Metadata) {
		m.LastStuckAlertAt = &now
	}); err != nil {
		return err
	}
	if err := j.RecordMessage(taskID, "stuck", resumePacket); err != nil {
		return err
	}
	log.Info(log.CatJournal, "stuck alert recorded", "task", taskID)
	return nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeOne(ids []string, id string) []string {
	out := ids[:0:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
