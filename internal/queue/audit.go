package queue

import (
	"github.com/miles990/multi-agent-workflow/internal/ids"
	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// LogEvent appends an audit event to logs/events.jsonl and returns its id.
func (q *Queue) LogEvent(workflowID string, eventType workflow.EventType, data map[string]any, status string) (string, error) {
	id, l, err := q.layout(workflowID)
	if err != nil {
		return "", err
	}

	if data == nil {
		data = map[string]any{}
	}
	if status == "" {
		status = "info"
	}

	now := q.timestamp()
	event := workflow.Event{
		ID:         ids.NewAt(ids.PrefixEvent, now),
		Timestamp:  now,
		WorkflowID: id,
		EventType:  eventType,
		Data:       data,
		Status:     status,
	}
	if err := logstore.Append(l.Events(), event); err != nil {
		return "", err
	}
	return event.ID, nil
}

// LogError appends an audit error record to logs/errors.jsonl and returns
// its id.
func (q *Queue) LogError(workflowID string, errorType workflow.ErrorType, message string, data map[string]any) (string, error) {
	id, l, err := q.layout(workflowID)
	if err != nil {
		return "", err
	}

	if data == nil {
		data = map[string]any{}
	}

	now := q.timestamp()
	rec := workflow.ErrorRecord{
		ID:         ids.NewAt(ids.PrefixError, now),
		Timestamp:  now,
		WorkflowID: id,
		ErrorType:  errorType,
		Message:    message,
		Data:       data,
	}
	if err := logstore.Append(l.Errors(), rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ReadEvents returns every readable event of the workflow in write order.
func (q *Queue) ReadEvents(workflowID string) ([]workflow.Event, error) {
	_, l, err := q.layout(workflowID)
	if err != nil {
		return nil, err
	}
	return values(logstore.ReadAll[workflow.Event](l.Events()))
}

// ReadErrors returns every readable error record of the workflow in write
// order.
func (q *Queue) ReadErrors(workflowID string) ([]workflow.ErrorRecord, error) {
	_, l, err := q.layout(workflowID)
	if err != nil {
		return nil, err
	}
	return values(logstore.ReadAll[workflow.ErrorRecord](l.Errors()))
}

func values[T any](records []logstore.Record[T], err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, len(records))
	for i, rec := range records {
		out[i] = rec.Value
	}
	return out, nil
}
