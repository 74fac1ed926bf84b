package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRegisterTaskIsIdempotent(t *testing.T) {
	j := openTestJournal(t)

	first, err := j.RegisterTask("task-1", "write the report")
	require.NoError(t, err)
	require.Equal(t, TaskActive, first.Status)

	second, err := j.RegisterTask("task-1", "a different name")
	require.NoError(t, err)
	require.Equal(t, "write the report", second.Name)
}

func TestUpdateTaskNormalizesCanceledAlias(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	updated, err := j.UpdateTask("task-1", "canceled", nil)
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, updated.Status)
}

func TestUpsertPlanItemStampsTiming(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	item, err := j.UpsertPlanItem("task-1", 1, "open browser", PlanActive)
	require.NoError(t, err)
	require.NotNil(t, item.StartedAt)
	require.Nil(t, item.CompletedAt)

	item, err = j.UpsertPlanItem("task-1", 1, "open browser", PlanCompleted)
	require.NoError(t, err)
	require.NotNil(t, item.CompletedAt)
	require.NotNil(t, item.Duration)
}

func TestActionLifecycleAndPayloadValidation(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	_, err = j.StartAction("act-1", "task-1", nil, ActionWait, "watch the terminal", `not json`)
	require.Error(t, err)

	a, err := j.StartAction("act-2", "task-1", nil, ActionWait, "watch the terminal", `{"target":"terminal"}`)
	require.NoError(t, err)
	require.Equal(t, ActionStarted, a.Status)

	require.NoError(t, j.LogAction("act-2", "still watching"))
	require.NoError(t, j.FinishAction("act-2", ActionCompleted, `{"verdict":"resolved"}`))
}

func TestGetSummaryDetailLevels(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	item, err := j.UpsertPlanItem("task-1", 1, "step one", PlanActive)
	require.NoError(t, err)
	_, err = j.StartAction("act-1", "task-1", &item.ID, ActionReasoning, "thinking", "considering options")
	require.NoError(t, err)
	require.NoError(t, j.LogAction("act-1", "note one"))

	items, err := j.GetSummary("task-1", DetailItems)
	require.NoError(t, err)
	require.Len(t, items.PlanItems, 1)
	require.Nil(t, items.Actions)

	focused, err := j.GetSummary("task-1", DetailFocused)
	require.NoError(t, err)
	require.Len(t, focused.Actions[item.ID], 1)
	require.Nil(t, focused.Logs)

	full, err := j.GetSummary("task-1", DetailFull)
	require.NoError(t, err)
	require.Len(t, full.Logs["act-1"], 1)
}

func TestDrillDownReturnsActionsAndLogs(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)
	item, err := j.UpsertPlanItem("task-1", 1, "step one", PlanPending)
	require.NoError(t, err)
	_, err = j.StartAction("act-1", "task-1", &item.ID, ActionCLI, "run ls", `{"cmd":"ls"}`)
	require.NoError(t, err)

	p, actions, logs, err := j.DrillDown("task-1", 1)
	require.NoError(t, err)
	require.Equal(t, "step one", p.Title)
	require.Len(t, actions, 1)
	require.NotNil(t, logs)
}

func TestWaitJobLifecycleUpdatesActiveWaitIDs(t *testing.T) {
	j := openTestJournal(t)
	taskID := "task-1"
	_, err := j.RegisterTask(taskID, "do a thing")
	require.NoError(t, err)

	require.NoError(t, j.OnWaitCreated("wait-1", &taskID, "window", "w-123", "page finishes loading", ":1"))

	task, err := j.store.getTask(taskID)
	require.NoError(t, err)
	require.Contains(t, task.Metadata.ActiveWaitIDs, "wait-1")

	require.NoError(t, j.OnWaitFinished("wait-1", &taskID, "resolved", "page loaded"))

	task, err = j.store.getTask(taskID)
	require.NoError(t, err)
	require.NotContains(t, task.Metadata.ActiveWaitIDs, "wait-1")
	require.Equal(t, "resolved", task.Metadata.LastWaitState)
}

func TestRegisterTaskWithPlanSeedsOrdinalsAndMetadata(t *testing.T) {
	j := openTestJournal(t)

	meta := Metadata{DisplayString: ":7", DisplaySlot: 7, Resolution: "1280x720"}
	task, err := j.RegisterTaskWithPlan("task-1", "fill out a form", []string{"open browser", "fill fields", "submit"}, meta)
	require.NoError(t, err)
	require.Equal(t, ":7", task.Metadata.DisplayString)

	items, err := j.store.listPlanItems("task-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, 0, items[0].Ordinal)
	require.Equal(t, "submit", items[2].Title)
	require.Equal(t, PlanPending, items[0].Status)

	// Re-registering the same id is idempotent and leaves the plan untouched.
	again, err := j.RegisterTaskWithPlan("task-1", "a different name", []string{"only step"}, Metadata{})
	require.NoError(t, err)
	require.Equal(t, "fill out a form", again.Name)
}

func TestUpdateTaskFullRecordsMessageAndQuery(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTaskWithPlan("task-1", "do a thing", []string{"step one"}, Metadata{})
	require.NoError(t, err)

	updated, err := j.UpdateTaskFull("task-1", UpdateTaskOpts{
		Status:  "active",
		Message: "trying a different selector",
		Query:   "is the dialog still open?",
	})
	require.NoError(t, err)
	require.Equal(t, TaskActive, updated.Status)

	msgs, err := j.RecentMessages("task-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "reasoning", msgs[0].Kind)
	require.Equal(t, "query", msgs[1].Kind)

	actions, err := j.store.listActionsByTask("task-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionReasoning, actions[0].Kind)
	require.Equal(t, ActionCompleted, actions[0].Status)
}

func TestUpdateTaskFullWithoutPlanItemsDropsReasoningAction(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	_, err = j.UpdateTaskFull("task-1", UpdateTaskOpts{Message: "no plan to attach this to"})
	require.NoError(t, err)

	actions, err := j.store.listActionsByTask("task-1")
	require.NoError(t, err)
	require.Empty(t, actions)

	msgs, err := j.RecentMessages("task-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestRecentMessagesOrdersOldestFirst(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	require.NoError(t, j.RecordMessage("task-1", "reasoning", "first"))
	require.NoError(t, j.RecordMessage("task-1", "reasoning", "second"))

	msgs, err := j.RecentMessages("task-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Body)
	require.Equal(t, "second", msgs[1].Body)
}

func TestRecordStuckAlertAppendsMessage(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.RegisterTask("task-1", "do a thing")
	require.NoError(t, err)

	require.NoError(t, j.RecordStuckAlert("task-1", "resume packet text"))

	task, err := j.store.getTask("task-1")
	require.NoError(t, err)
	require.NotNil(t, task.Metadata.LastStuckAlertAt)

	msgs, err := j.store.lastTaskMessages("task-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "stuck", msgs[0].Kind)
}
