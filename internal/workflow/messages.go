package workflow

import (
	"encoding/json"
	"time"
)

// Reserved destinations. Any other destination names an agent inbox.
const (
	Broadcast    = "broadcast"
	Orchestrator = "orchestrator"
)

// MessageType names what a message asks of its receiver. The set is open;
// the constants below are the ones the queue treats specially.
type MessageType string

const (
	MessageTaskAssign        MessageType = "task_assign"
	MessageCheckpointRequest MessageType = "checkpoint_request"
	MessageAbort             MessageType = "abort"

	// MessageTaskComplete reports finished work to the orchestrator.
	MessageTaskComplete MessageType = "task_complete"
)

// RequiresAck reports whether receivers of this type are expected to ack.
func (t MessageType) RequiresAck() bool {
	switch t {
	case MessageTaskAssign, MessageCheckpointRequest, MessageAbort:
		return true
	}
	return false
}

// Message is one line of a channel file.
type Message struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Type        MessageType     `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	RequiresAck bool            `json:"requires_ack"`
}

// Delivered is a message as returned by a read, tagged with its line in the
// channel it came from.
type Delivered struct {
	Message
	Line int `json:"_line"`
}

// AckStatusReceived is the default ack status.
const AckStatusReceived = "received"

// Ack is one line of an agent's .ack file.
type Ack struct {
	MsgID  string    `json:"msg_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// AckResult is the outcome of waiting for an ack. A timeout is reported here,
// not as an error.
type AckResult struct {
	Success bool   `json:"success"`
	Ack     *Ack   `json:"ack,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AckTimeout is the AckResult.Error value for an expired wait.
const AckTimeout = "timeout"
