package queue

import (
	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/state"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// RegisterAgent creates empty inbox and ack files for the agent and records
// it as registered. Registering an existing agent truncates both files and
// replaces its record.
func (q *Queue) RegisterAgent(workflowID, agentID, perspective string) (string, error) {
	if err := validateName("agent id", agentID); err != nil {
		return "", err
	}

	id, l, err := q.layout(workflowID)
	if err != nil {
		return "", err
	}

	if err := logstore.Reset(l.Inbox(agentID)); err != nil {
		return "", err
	}
	if err := logstore.Reset(l.AckLog(agentID)); err != nil {
		return "", err
	}

	now := q.timestamp()
	err = q.store.Update(l.Dir(), func(reg *workflow.Registry) (bool, error) {
		state.PutAgent(reg, agentID, perspective, now)
		return true, nil
	})
	if err != nil {
		return "", err
	}

	data := map[string]any{"agent_id": agentID, "perspective": perspective}
	if _, err := q.LogEvent(id, workflow.EventAgentRegistered, data, "registered"); err != nil {
		q.logger.Warn("failed to record registration event", "workflow", id, "agent", agentID, "err", err)
	}

	q.logger.Debug("agent registered", "workflow", id, "agent", agentID, "perspective", perspective)
	return agentID, nil
}

// Registry returns the workflow's agent registry document.
func (q *Queue) Registry(workflowID string) (*workflow.Registry, error) {
	_, l, err := q.layout(workflowID)
	if err != nil {
		return nil, err
	}
	return q.store.Load(l.Dir())
}
