package queue

import (
	"path/filepath"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// Layout resolves the fixed file tree of one workflow directory:
//
//	<dir>/state/agents.json
//	<dir>/state/heartbeat/<agent>.ts
//	<dir>/channel/broadcast.jsonl
//	<dir>/channel/orchestrator.jsonl
//	<dir>/channel/agents/<agent>.jsonl
//	<dir>/channel/agents/<agent>.ack
//	<dir>/logs/events.jsonl
//	<dir>/logs/errors.jsonl
type Layout string

func (l Layout) Dir() string          { return string(l) }
func (l Layout) ChannelDir() string   { return filepath.Join(string(l), "channel") }
func (l Layout) AgentsDir() string    { return filepath.Join(l.ChannelDir(), "agents") }
func (l Layout) StateDir() string     { return filepath.Join(string(l), "state") }
func (l Layout) HeartbeatDir() string { return filepath.Join(l.StateDir(), "heartbeat") }
func (l Layout) LogsDir() string      { return filepath.Join(string(l), "logs") }

func (l Layout) Broadcast() string    { return filepath.Join(l.ChannelDir(), "broadcast.jsonl") }
func (l Layout) Orchestrator() string { return filepath.Join(l.ChannelDir(), "orchestrator.jsonl") }
func (l Layout) Events() string       { return filepath.Join(l.LogsDir(), "events.jsonl") }
func (l Layout) Errors() string       { return filepath.Join(l.LogsDir(), "errors.jsonl") }

// Inbox is the agent's private message channel.
func (l Layout) Inbox(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID+".jsonl")
}

// AckLog is the agent's acknowledgment log.
func (l Layout) AckLog(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID+".ack")
}

// Heartbeat is the agent's liveness timestamp file.
func (l Layout) Heartbeat(agentID string) string {
	return filepath.Join(l.HeartbeatDir(), agentID+".ts")
}

// Channel maps a destination to the one file it is delivered to.
func (l Layout) Channel(to string) string {
	switch to {
	case workflow.Broadcast:
		return l.Broadcast()
	case workflow.Orchestrator:
		return l.Orchestrator()
	default:
		return l.Inbox(to)
	}
}
