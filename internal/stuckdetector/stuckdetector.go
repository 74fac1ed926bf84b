// Package stuckdetector implements the Stuck Detector (C10): a periodic
// loop that reconciles each active task's recorded wait jobs against the
// journal and emits a resume packet when a task has gone silent with no
// wait watching over it.
package stuckdetector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/journal"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
	"github.com/alxdofficial/openclaw-memoriesai/internal/wakesink"
)

// Detector runs the periodic reconcile loop: a Config-driven Start/Stop
// lifecycle wrapping an internal periodic loop.
type Detector struct {
	cfg     config.StuckDetectorConfig
	journal *journal.Journal
	sink    wakesink.Sink

	stop chan struct{}
	done chan struct{}
}

// New returns a Detector wired to journal and sink.
func New(cfg config.StuckDetectorConfig, j *journal.Journal, sink wakesink.Sink) *Detector {
	return &Detector{
		cfg:     cfg,
		journal: j,
		sink:    sink,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the reconcile loop on cfg.Interval until Stop is called or ctx
// is cancelled.
func (d *Detector) Start(ctx context.Context) {
	log.SafeGo("stuck-detector-loop", func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.tick(time.Now())
			}
		}
	})
}

// Stop signals the loop to exit and blocks until it has.
func (d *Detector) Stop() {
	close(d.stop)
	<-d.done
}

// tick reconciles every active task, emitting a resume packet for any that
// qualifies as stuck.
func (d *Detector) tick(now time.Time) {
	tasks, err := d.journal.ActiveTasks(string(journal.TaskActive))
	if err != nil {
		log.ErrorErr(log.CatStuck, "listing active tasks failed", err)
		return
	}

	for _, t := range tasks {
		if packet, ok := d.evaluateTask(t, now); ok {
			d.sink.Emit(wakeMessage(packet))
		}
	}
}

// wakeMessage wraps a JSON resume packet in the wake-event shape
// for a stuck task: "[task_stuck_resume] <resume-packet-json>".
func wakeMessage(packetJSON string) string {
	return fmt.Sprintf("[task_stuck_resume] %s", packetJSON)
}

// evaluateTask runs one task through the four gating checks and, if none
// of them skip it, builds and records a resume packet.
func (d *Detector) evaluateTask(t *journal.Task, now time.Time) (string, bool) {
	// Step 1: reconcile active_wait_ids against the journal's wait-jobs
	// table, keeping only those still "watching".
	watching, err := d.journal.ActiveWatchingIDs(t.ID, t.Metadata.ActiveWaitIDs)
	if err != nil {
		log.ErrorErr(log.CatStuck, "reconciling active wait ids failed", err, "task", t.ID)
		return "", false
	}
	if len(watching) != len(t.Metadata.ActiveWaitIDs) {
		if _, err := d.journal.UpdateTask(t.ID, "", func(m *journal.Metadata) {
			m.ActiveWaitIDs = watching
		}); err != nil {
			log.ErrorErr(log.CatStuck, "persisting reconciled wait ids failed", err, "task", t.ID)
		}
	}

	// Step 2: any active wait means the task isn't silent.
	if len(watching) > 0 {
		return "", false
	}

	// Step 3: recently updated tasks aren't stuck yet.
	if now.Sub(t.UpdatedAt) < d.cfg.SilenceThreshold {
		return "", false
	}

	// Step 4: cooldown since the last alert.
	if t.Metadata.LastStuckAlertAt != nil && now.Sub(*t.Metadata.LastStuckAlertAt) < d.cfg.AlertCooldown {
		return "", false
	}

	packet, err := d.buildResumePacket(t, now)
	if err != nil {
		log.ErrorErr(log.CatStuck, "building resume packet failed", err, "task", t.ID)
		return "", false
	}

	if err := d.journal.RecordStuckAlert(t.ID, packet); err != nil {
		log.ErrorErr(log.CatStuck, "recording stuck alert failed", err, "task", t.ID)
	} else if _, err := d.journal.UpdateTask(t.ID, "", func(m *journal.Metadata) {
		// The cooldown gate above compares against this tick's clock, so
		// the alert time is stamped with it too.
		m.LastStuckAlertAt = &now
	}); err != nil {
		log.ErrorErr(log.CatStuck, "stamping stuck alert time failed", err, "task", t.ID)
	}
	return packet, true
}

// resumePacket is the JSON shape emitted for a stuck task: task identity,
// plan progress, the current item's expanded action/log detail, the last
// few messages, a wait-activity summary, and a human-readable reason.
type resumePacket struct {
	TaskID   string         `json:"task_id"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Progress progressReport `json:"progress"`
	Current  *currentItem   `json:"current_item,omitempty"`
	Messages []string       `json:"messages"`
	Wait     waitSummary    `json:"wait_summary"`
	Reason   string         `json:"reason"`
}

type progressReport struct {
	Completed      []int   `json:"completed"`
	CurrentOrdinal *int    `json:"current_ordinal,omitempty"`
	CurrentTitle   string  `json:"current_title,omitempty"`
	Remaining      []int   `json:"remaining"`
	Percent        float64 `json:"percent"`
}

type currentItem struct {
	Ordinal int           `json:"ordinal"`
	Title   string        `json:"title"`
	Status  string        `json:"status"`
	Actions []actionEntry `json:"actions"`
}

type actionEntry struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Logs    []string `json:"logs,omitempty"`
}

type waitSummary struct {
	ActiveCount int    `json:"active_count"`
	LastState   string `json:"last_state,omitempty"`
}

// buildResumePacket assembles the resume packet as JSON.
func (d *Detector) buildResumePacket(t *journal.Task, now time.Time) (string, error) {
	summary, err := d.journal.GetSummary(t.ID, journal.DetailFull)
	if err != nil {
		return "", err
	}

	msgs, err := d.journal.RecentMessages(t.ID, d.cfg.ResumeMessageTail)
	if err != nil {
		return "", err
	}
	messages := make([]string, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, fmt.Sprintf("[%s] %s", m.Kind, m.Body))
	}

	p := resumePacket{
		TaskID:   t.ID,
		Name:     t.Name,
		Status:   string(t.Status),
		Progress: progressOf(summary.PlanItems),
		Messages: messages,
		Wait: waitSummary{
			ActiveCount: len(t.Metadata.ActiveWaitIDs),
			LastState:   t.Metadata.LastWaitState,
		},
		Reason: fmt.Sprintf("no updates for %d minutes and no active smart wait", int(now.Sub(t.UpdatedAt).Minutes())),
	}

	if cur := currentOf(summary.PlanItems); cur != nil {
		actions := summary.Actions[cur.ID]
		entries := make([]actionEntry, 0, len(actions))
		for _, a := range actions {
			var logs []string
			for _, l := range summary.Logs[a.ID] {
				logs = append(logs, l.Note)
			}
			entries = append(entries, actionEntry{
				ID:      a.ID,
				Kind:    string(a.Kind),
				Status:  string(a.Status),
				Summary: a.Summary,
				Logs:    logs,
			})
		}
		p.Current = &currentItem{
			Ordinal: cur.Ordinal,
			Title:   cur.Title,
			Status:  string(cur.Status),
			Actions: entries,
		}
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling resume packet for task %s: %w", t.ID, err)
	}
	return string(b), nil
}

// progressOf computes completed/current/remaining ordinals. The current
// item is the first active plan item, or — if none is active yet — the
// first pending one, matching the journal's own "current active (or
// first-pending)" convention.
func progressOf(items []*journal.PlanItem) progressReport {
	r := progressReport{Completed: []int{}, Remaining: []int{}}
	cur := currentOf(items)

	for _, p := range items {
		switch {
		case p.Status == journal.PlanCompleted:
			r.Completed = append(r.Completed, p.Ordinal)
		case cur != nil && p.Ordinal == cur.Ordinal:
			ord := p.Ordinal
			r.CurrentOrdinal = &ord
			r.CurrentTitle = p.Title
		default:
			r.Remaining = append(r.Remaining, p.Ordinal)
		}
	}

	if len(items) > 0 {
		r.Percent = 100 * float64(len(r.Completed)) / float64(len(items))
	}
	return r
}

func currentOf(items []*journal.PlanItem) *journal.PlanItem {
	for _, p := range items {
		if p.Status == journal.PlanActive {
			return p
		}
	}
	for _, p := range items {
		if p.Status == journal.PlanPending {
			return p
		}
	}
	return nil
}
