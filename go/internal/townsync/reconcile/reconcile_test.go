package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttown/townsync/go/internal/models"
)

func task(id, assignee string, status models.TaskStatus) *models.Task {
	return &models.Task{TaskID: id, AssigneeID: assignee, Status: status, UpdatedAt: "2026-01-01T00:00:00Z"}
}

func report(id, taskID, worker string, status models.TaskStatus, createdAt string) *models.Report {
	return &models.Report{ReportID: id, TaskID: taskID, WorkerID: worker, Status: status, CreatedAt: createdAt}
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC).Equal(ParseTimestamp("2026-01-01T00:00:01Z")))
	assert.Equal(t, int64(0), ParseTimestamp("not a date").Unix())
	assert.Equal(t, int64(0), ParseTimestamp("").Unix())
	assert.True(t, ParseTimestamp("2026-01-01T00:00:01.500Z").After(ParseTimestamp("2026-01-01T00:00:01Z")))
}

func TestLatestByWorker(t *testing.T) {
	older := report("r1", "t1", "a1", models.TaskStatusInProgress, "2026-01-01T00:00:01Z")
	newer := report("r2", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:02Z")
	broken := report("r3", "t1", "a1", models.TaskStatusFailed, "garbage")
	other := report("r4", "t2", "a2", models.TaskStatusBlocked, "2026-01-01T00:00:00Z")

	latest := LatestByWorker([]*models.Report{newer, broken, older, other})
	assert.Same(t, newer, latest["a1"])
	assert.Same(t, other, latest["a2"])

	latest = LatestByWorker([]*models.Report{older, newer})
	assert.Same(t, newer, latest["a1"])
}

func TestTasks_AppliesLatestReport(t *testing.T) {
	tasks := []*models.Task{task("t1", "a1", models.TaskStatusAssigned), task("t2", "a2", models.TaskStatusAssigned)}
	inProgress := report("r1", "t1", "a1", models.TaskStatusInProgress, "2026-01-01T00:00:01Z")
	done := report("r2", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:02Z")

	for name, reports := range map[string][]*models.Report{
		"in order":     {inProgress, done},
		"out of order": {done, inProgress},
	} {
		t.Run(name, func(t *testing.T) {
			out := Tasks(tasks, reports)
			require.Len(t, out, 2)
			assert.Equal(t, models.TaskStatusDone, out[0].Status)
			assert.Equal(t, "2026-01-01T00:00:02Z", out[0].UpdatedAt)
			assert.Same(t, tasks[1], out[1], "untouched tasks keep identity")
			assert.Equal(t, models.TaskStatusAssigned, tasks[0].Status, "input is not mutated")
		})
	}
}

func TestTasks_IgnoresReportsForOtherTasks(t *testing.T) {
	tasks := []*models.Task{task("t5", "a1", models.TaskStatusAssigned)}
	out := Tasks(tasks, []*models.Report{report("r1", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:02Z")})
	assert.Same(t, tasks[0], out[0])
}

func TestTasks_Idempotent(t *testing.T) {
	tasks := []*models.Task{
		task("t1", "a1", models.TaskStatusAssigned),
		task("t2", "a2", models.TaskStatusAssigned),
		task("t3", "a3", models.TaskStatusAssigned),
	}
	reports := []*models.Report{
		report("r1", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:02Z"),
		report("r2", "t3", "a3", models.TaskStatusFailed, "2026-01-01T00:00:03Z"),
	}

	once := Tasks(tasks, reports)
	twice := Tasks(once, reports)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Same(t, once[i], twice[i])
	}
	assert.Same(t, &once[0], &twice[0], "unchanged stream is returned as the same slice")
}

func TestTasks_EmptyInputs(t *testing.T) {
	assert.Nil(t, Tasks(nil, []*models.Report{report("r1", "t1", "a1", models.TaskStatusDone, "")}))
	tasks := []*models.Task{task("t1", "a1", models.TaskStatusAssigned)}
	out := Tasks(tasks, nil)
	assert.Same(t, tasks[0], out[0])
}

func TestTask_Single(t *testing.T) {
	original := task("t1", "a1", models.TaskStatusAssigned)
	assert.Same(t, original, Task(original, nil))

	next := Task(original, report("r1", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:01Z"))
	assert.NotSame(t, original, next)
	assert.Equal(t, models.TaskStatusDone, next.Status)

	assert.Same(t, next, Task(next, report("r1", "t1", "a1", models.TaskStatusDone, "2026-01-01T00:00:01Z")))
}
