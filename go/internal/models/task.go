package models

// TaskStatus defines the lifecycle status of a task or report.
type TaskStatus string

const (
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Task is the active task of a single agent. Tasks are keyed by AssigneeID;
// only the most recently reconciled record per assignee is retained.
type Task struct {
	TaskID     string     `json:"taskId"`
	TaskTitle  *string    `json:"taskTitle,omitempty"`
	AssigneeID string     `json:"assigneeId"`
	Category   string     `json:"category"`
	Status     TaskStatus `json:"status"`
	UpdatedAt  string     `json:"updatedAt"`
}

// Report is a worker's status report for a task. Reports are keyed by WorkerID.
type Report struct {
	ReportID  string     `json:"reportId"`
	TaskID    string     `json:"taskId"`
	WorkerID  string     `json:"workerId"`
	Status    TaskStatus `json:"status"`
	Summary   *string    `json:"summary,omitempty"`
	CreatedAt string     `json:"createdAt"`
}
