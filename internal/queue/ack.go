package queue

import (
	"context"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// SendAck appends an ack for msgID to the agent's ack log. It does not check
// that the message exists or was addressed to the agent. An empty status
// defaults to "received".
func (q *Queue) SendAck(workflowID, agentID, msgID, status string) (workflow.Ack, error) {
	if err := validateName("agent id", agentID); err != nil {
		return workflow.Ack{}, err
	}

	_, l, err := q.layout(workflowID)
	if err != nil {
		return workflow.Ack{}, err
	}

	if status == "" {
		status = workflow.AckStatusReceived
	}
	ack := workflow.Ack{
		MsgID:  msgID,
		Status: status,
		At:     q.timestamp(),
	}

	if err := logstore.Append(l.AckLog(agentID), ack); err != nil {
		return workflow.Ack{}, err
	}

	return ack, nil
}

// WaitForAck polls the agent's ack log until an ack for msgID appears or
// timeout elapses. Each poll re-reads the whole log and takes the first
// matching ack in file order.
//
// An expired wait is not an error: it returns an AckResult with Success
// false and Error "timeout". The returned error is non-nil only when the
// workflow cannot be resolved, the log cannot be read, or ctx ends first.
func (q *Queue) WaitForAck(ctx context.Context, workflowID, agentID, msgID string, timeout time.Duration) (workflow.AckResult, error) {
	if err := validateName("agent id", agentID); err != nil {
		return workflow.AckResult{}, err
	}

	_, l, err := q.layout(workflowID)
	if err != nil {
		return workflow.AckResult{}, err
	}
	path := l.AckLog(agentID)

	deadline := time.Now().Add(timeout)

	for {
		acks, err := logstore.ReadAll[workflow.Ack](path)
		if err != nil {
			return workflow.AckResult{}, err
		}
		for _, rec := range acks {
			if rec.Value.MsgID == msgID {
				ack := rec.Value
				return workflow.AckResult{Success: true, Ack: &ack}, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return workflow.AckResult{Success: false, Error: workflow.AckTimeout}, nil
		}

		select {
		case <-ctx.Done():
			return workflow.AckResult{}, ctx.Err()
		case <-time.After(min(q.ackPollInterval, remaining)):
		}
	}
}
