package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// store wraps *sql.DB with the per-table scan/save helpers, grounded on the
// a sessionRepository-style shape (scanX + positional-placeholder SQL).
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &store{db: db}, nil
}

func (s *store) Close() error { return s.db.Close() }

const taskColumns = `id, name, status, metadata, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var metadata string
	if err := scanner.Scan(&t.ID, &t.Name, &t.Status, &metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Metadata = unmarshalMetadata(metadata)
	return &t, nil
}

func (s *store) insertTask(t *Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, name, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Status, t.Metadata.marshal(), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *store) updateTask(t *Task) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET name = ?, status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Status, t.Metadata.marshal(), t.UpdatedAt, t.ID,
	)
	return err
}

func (s *store) getTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *store) listTasks(status string, limit int) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const planItemColumns = `id, task_id, ordinal, title, status, started_at, completed_at, duration_seconds`

func scanPlanItem(scanner interface{ Scan(...any) error }) (*PlanItem, error) {
	var p PlanItem
	if err := scanner.Scan(&p.ID, &p.TaskID, &p.Ordinal, &p.Title, &p.Status, &p.StartedAt, &p.CompletedAt, &p.Duration); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *store) insertPlanItem(p *PlanItem) error {
	res, err := s.db.Exec(
		`INSERT INTO plan_items (task_id, ordinal, title, status, started_at, completed_at, duration_seconds) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.TaskID, p.Ordinal, p.Title, p.Status, p.StartedAt, p.CompletedAt, p.Duration,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (s *store) updatePlanItem(p *PlanItem) error {
	_, err := s.db.Exec(
		`UPDATE plan_items SET title = ?, status = ?, started_at = ?, completed_at = ?, duration_seconds = ? WHERE id = ?`,
		p.Title, p.Status, p.StartedAt, p.CompletedAt, p.Duration, p.ID,
	)
	return err
}

func (s *store) getPlanItemByOrdinal(taskID string, ordinal int) (*PlanItem, error) {
	row := s.db.QueryRow(`SELECT `+planItemColumns+` FROM plan_items WHERE task_id = ? AND ordinal = ?`, taskID, ordinal)
	return scanPlanItem(row)
}

func (s *store) listPlanItems(taskID string) ([]*PlanItem, error) {
	rows, err := s.db.Query(`SELECT `+planItemColumns+` FROM plan_items WHERE task_id = ? ORDER BY ordinal ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PlanItem
	for rows.Next() {
		p, err := scanPlanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const actionColumns = `id, task_id, plan_item_id, kind, summary, status, input_data, output_data, created_at`

func scanAction(scanner interface{ Scan(...any) error }) (*Action, error) {
	var a Action
	if err := scanner.Scan(&a.ID, &a.TaskID, &a.PlanItemID, &a.Kind, &a.Summary, &a.Status, &a.InputData, &a.OutputData, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *store) insertAction(a *Action) error {
	_, err := s.db.Exec(
		`INSERT INTO actions (id, task_id, plan_item_id, kind, summary, status, input_data, output_data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.PlanItemID, a.Kind, a.Summary, a.Status, a.InputData, a.OutputData, a.CreatedAt,
	)
	return err
}

func (s *store) updateActionStatus(id string, status ActionStatus, output *string) error {
	_, err := s.db.Exec(`UPDATE actions SET status = ?, output_data = ? WHERE id = ?`, status, output, id)
	return err
}

func (s *store) listActionsByPlanItem(planItemID int64) ([]*Action, error) {
	rows, err := s.db.Query(`SELECT `+actionColumns+` FROM actions WHERE plan_item_id = ? ORDER BY created_at ASC`, planItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *store) listActionsByTask(taskID string) ([]*Action, error) {
	rows, err := s.db.Query(`SELECT `+actionColumns+` FROM actions WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *store) insertActionLog(l *ActionLog) error {
	res, err := s.db.Exec(`INSERT INTO action_logs (action_id, note, created_at) VALUES (?, ?, ?)`, l.ActionID, l.Note, l.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

func (s *store) listActionLogs(actionID string) ([]*ActionLog, error) {
	rows, err := s.db.Query(`SELECT id, action_id, note, created_at FROM action_logs WHERE action_id = ? ORDER BY created_at ASC`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionLog
	for rows.Next() {
		var l ActionLog
		if err := rows.Scan(&l.ID, &l.ActionID, &l.Note, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *store) insertTaskMessage(m *TaskMessage) error {
	res, err := s.db.Exec(`INSERT INTO task_messages (task_id, kind, body, created_at) VALUES (?, ?, ?, ?)`, m.TaskID, m.Kind, m.Body, m.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func (s *store) lastTaskMessages(taskID string, n int) ([]*TaskMessage, error) {
	rows, err := s.db.Query(`SELECT id, task_id, kind, body, created_at FROM task_messages WHERE task_id = ? ORDER BY created_at DESC LIMIT ?`, taskID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskMessage
	for rows.Next() {
		var m TaskMessage
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	// reverse to oldest->newest
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

const waitJobColumns = `id, task_id, target_kind, target_id, condition, status, result_desc, display_string, created_at, resolved_at`

func scanWaitJob(scanner interface{ Scan(...any) error }) (*WaitJobRow, error) {
	var w WaitJobRow
	if err := scanner.Scan(&w.ID, &w.TaskID, &w.TargetKind, &w.TargetID, &w.Condition, &w.Status, &w.ResultDesc, &w.DisplayString, &w.CreatedAt, &w.ResolvedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *store) insertWaitJob(w *WaitJobRow) error {
	_, err := s.db.Exec(
		`INSERT INTO wait_jobs (`+waitJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TaskID, w.TargetKind, w.TargetID, w.Condition, w.Status, w.ResultDesc, w.DisplayString, w.CreatedAt, w.ResolvedAt,
	)
	return err
}

func (s *store) finalizeWaitJob(id string, status string, resultDesc string, resolvedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE wait_jobs SET status = ?, result_desc = ?, resolved_at = ? WHERE id = ?`,
		status, resultDesc, resolvedAt, id,
	)
	return err
}

func (s *store) watchingWaitJobIDs(taskID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT id FROM wait_jobs WHERE task_id = ? AND status = 'watching'`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
