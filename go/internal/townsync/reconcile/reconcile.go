// Package reconcile derives the current status of tasks from worker reports.
package reconcile

import (
	"time"

	"github.com/agenttown/townsync/go/internal/models"
)

var epoch = time.Unix(0, 0).UTC()

// ParseTimestamp parses an ISO-8601 timestamp. Unparsable values sort as the
// Unix epoch.
func ParseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return epoch
}

// Newer reports whether a was created strictly after b. A nil b is always older.
func Newer(a, b *models.Report) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return ParseTimestamp(a.CreatedAt).After(ParseTimestamp(b.CreatedAt))
}

// LatestByWorker returns the most recent report per worker by CreatedAt. On a
// timestamp tie the report that appears later in the slice wins.
func LatestByWorker(reports []*models.Report) map[string]*models.Report {
	latest := make(map[string]*models.Report, len(reports))
	for _, r := range reports {
		if r == nil || r.WorkerID == "" {
			continue
		}
		current, ok := latest[r.WorkerID]
		if !ok || !Newer(current, r) {
			latest[r.WorkerID] = r
		}
	}
	return latest
}

// Tasks overwrites the status and timestamp of every task whose latest worker
// report refers to the same task id.
//
// Tasks that need no change keep their pointer identity, and when nothing
// changes the input slice itself is returned.
func Tasks(tasks []*models.Task, reports []*models.Report) []*models.Task {
	if len(tasks) == 0 || len(reports) == 0 {
		return tasks
	}
	latest := LatestByWorker(reports)

	var out []*models.Task
	for i, task := range tasks {
		next := apply(task, latest)
		if next == task {
			if out != nil {
				out[i] = task
			}
			continue
		}
		if out == nil {
			out = make([]*models.Task, len(tasks))
			copy(out, tasks[:i])
		}
		out[i] = next
	}
	if out == nil {
		return tasks
	}
	return out
}

// Task reconciles a single task against the latest report for its assignee.
// It returns the same pointer when nothing changes.
func Task(task *models.Task, report *models.Report) *models.Task {
	if report == nil {
		return task
	}
	return apply(task, map[string]*models.Report{report.WorkerID: report})
}

func apply(task *models.Task, latest map[string]*models.Report) *models.Task {
	if task == nil {
		return task
	}
	report, ok := latest[task.AssigneeID]
	if !ok || report.TaskID != task.TaskID {
		return task
	}
	if task.Status == report.Status && task.UpdatedAt == report.CreatedAt {
		return task
	}
	next := *task
	next.Status = report.Status
	next.UpdatedAt = report.CreatedAt
	return &next
}
