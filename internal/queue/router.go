package queue

import (
	"encoding/json"
	"fmt"

	"github.com/miles990/multi-agent-workflow/internal/ids"
	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// Send appends a message from `from` to the channel selected by `to` and
// returns its id. Agent destinations are not checked against the registry;
// an inbox that does not exist yet is created by the append.
//
// A failure to write the audit event is logged, not returned: the message
// has already been delivered by then.
func (q *Queue) Send(workflowID, from, to string, msgType workflow.MessageType, payload any) (string, error) {
	if err := validateName("destination", to); err != nil {
		return "", err
	}

	id, l, err := q.layout(workflowID)
	if err != nil {
		return "", err
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	now := q.timestamp()
	msg := workflow.Message{
		ID:          ids.NewAt(ids.PrefixMessage, now),
		Timestamp:   now,
		From:        from,
		To:          to,
		Type:        msgType,
		Payload:     raw,
		RequiresAck: msgType.RequiresAck(),
	}

	if err := logstore.Append(l.Channel(to), msg); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	data := map[string]any{
		"message_id": msg.ID,
		"from":       from,
		"to":         to,
		"type":       string(msgType),
	}
	if _, err := q.LogEvent(id, workflow.EventMessage, data, "sent"); err != nil {
		q.logger.Warn("failed to record send event", "workflow", id, "msg_id", msg.ID, "err", err)
	}

	q.logger.Debug("message sent", "workflow", id, "msg_id", msg.ID, "from", from, "to", to, "type", msgType)
	return msg.ID, nil
}

// marshalPayload turns an arbitrary payload into raw JSON. A nil payload
// becomes an empty object.
func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
