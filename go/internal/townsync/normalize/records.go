package normalize

import (
	"encoding/json"
	"strconv"

	"github.com/agenttown/townsync/go/internal/models"
)

// Task validates a task record. A payload wrapped as {task: {...}} is accepted.
func Task(v any) (models.Task, bool) {
	o, ok := asObject(v)
	if !ok {
		return models.Task{}, false
	}
	if inner, ok := asObject(o["task"]); ok {
		o = inner
	}

	taskID, ok := o.str("taskId")
	if !ok {
		return models.Task{}, false
	}
	assignee, ok := o.str("assigneeId")
	if !ok {
		return models.Task{}, false
	}
	status, ok := o.str("status")
	if !ok {
		return models.Task{}, false
	}
	title, valid := o.optStr("taskTitle")
	if !valid {
		return models.Task{}, false
	}
	category, valid := o.optStr("category")
	if !valid {
		return models.Task{}, false
	}
	updatedAt, valid := o.optStr("updatedAt")
	if !valid {
		return models.Task{}, false
	}

	t := models.Task{
		TaskID:     taskID,
		TaskTitle:  title,
		AssigneeID: assignee,
		Status:     models.TaskStatus(status),
	}
	if category != nil {
		t.Category = *category
	}
	if updatedAt != nil {
		t.UpdatedAt = *updatedAt
	}
	return t, true
}

// Report validates a report record. A payload wrapped as {report: {...}} is
// accepted, and "id" is accepted in place of "reportId".
func Report(v any) (models.Report, bool) {
	o, ok := asObject(v)
	if !ok {
		return models.Report{}, false
	}
	if inner, ok := asObject(o["report"]); ok {
		o = inner
	}

	reportID, ok := o.firstStr("reportId", "id")
	if !ok {
		return models.Report{}, false
	}
	taskID, ok := o.str("taskId")
	if !ok {
		return models.Report{}, false
	}
	worker, ok := o.str("workerId")
	if !ok {
		return models.Report{}, false
	}
	status, ok := o.str("status")
	if !ok {
		return models.Report{}, false
	}
	summary, valid := o.optStr("summary")
	if !valid {
		return models.Report{}, false
	}
	createdAt, valid := o.optStr("createdAt")
	if !valid {
		return models.Report{}, false
	}

	r := models.Report{
		ReportID: reportID,
		TaskID:   taskID,
		WorkerID: worker,
		Status:   models.TaskStatus(status),
		Summary:  summary,
	}
	if createdAt != nil {
		r.CreatedAt = *createdAt
	}
	return r, true
}

// Command validates a command record. The legacy "message" field substitutes
// for "command".
func Command(v any) (models.Command, bool) {
	o, ok := asObject(v)
	if !ok {
		return models.Command{}, false
	}
	id, ok := o.str("id")
	if !ok {
		return models.Command{}, false
	}
	text, ok := o.firstStr("command", "message")
	if !ok {
		return models.Command{}, false
	}
	c := models.Command{ID: id, Command: text}
	for key, dst := range map[string]*string{
		"status":    &c.Status,
		"agentId":   &c.AgentID,
		"createdAt": &c.CreatedAt,
		"updatedAt": &c.UpdatedAt,
	} {
		value, valid := o.optStr(key)
		if !valid {
			return models.Command{}, false
		}
		if value != nil {
			*dst = *value
		}
	}
	return c, true
}

// Commands validates a list of commands, dropping malformed entries.
func Commands(v any) ([]models.Command, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.Command, 0, len(items))
	for _, item := range items {
		if c, ok := Command(item); ok {
			out = append(out, c)
		}
	}
	return out, true
}

// CommandUpdate accepts a single command, {command: {...}}, {commands: [...]}
// or a bare array of commands.
func CommandUpdate(v any) (models.CommandUpdate, bool) {
	if list, ok := Commands(v); ok {
		return models.CommandUpdate{Commands: list, Collection: true}, true
	}
	o, ok := asObject(v)
	if !ok {
		return models.CommandUpdate{}, false
	}
	if o.has("commands") {
		list, ok := Commands(o["commands"])
		if !ok {
			return models.CommandUpdate{}, false
		}
		return models.CommandUpdate{Commands: list, Collection: true}, true
	}
	if inner, ok := asObject(o["command"]); ok {
		o = inner
	}
	c, ok := Command(map[string]any(o))
	if !ok {
		return models.CommandUpdate{}, false
	}
	return models.CommandUpdate{Commands: []models.Command{c}}, true
}

// Dashboard accepts {content: "..."} or a bare markdown string.
func Dashboard(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	o, ok := asObject(v)
	if !ok {
		return "", false
	}
	content, ok := o["content"].(string)
	return content, ok
}

// WSError validates a channel-level error. Numeric codes are stringified.
func WSError(v any) (models.WSError, bool) {
	o, ok := asObject(v)
	if !ok {
		return models.WSError{}, false
	}
	var e models.WSError
	switch code := o["code"].(type) {
	case string:
		e.Code = code
	case float64:
		e.Code = strconv.FormatFloat(code, 'f', -1, 64)
	}
	e.Message, _ = o["message"].(string)
	if e.Code == "" && e.Message == "" {
		return models.WSError{}, false
	}
	return e, true
}

// ContextStats accepts any JSON object and keeps it verbatim.
func ContextStats(v any) (json.RawMessage, bool) {
	if _, ok := asObject(v); !ok {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Tasks validates a list of tasks, dropping malformed entries. It accepts a
// bare array or {tasks: [...]}.
func Tasks(v any) ([]models.Task, bool) {
	if o, ok := asObject(v); ok {
		v = o["tasks"]
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.Task, 0, len(items))
	for _, item := range items {
		if t, ok := Task(item); ok {
			out = append(out, t)
		}
	}
	return out, true
}

// Reports validates a list of reports, dropping malformed entries. It accepts
// a bare array or {reports: [...]}.
func Reports(v any) ([]models.Report, bool) {
	if o, ok := asObject(v); ok {
		v = o["reports"]
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.Report, 0, len(items))
	for _, item := range items {
		if r, ok := Report(item); ok {
			out = append(out, r)
		}
	}
	return out, true
}
