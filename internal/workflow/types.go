package workflow

import "time"

// Registry is the agents.json document kept in a workflow's state directory.
type Registry struct {
	WorkflowID   string                  `json:"workflow_id"`
	WorkflowType string                  `json:"workflow_type"`
	Topic        string                  `json:"topic"`
	CreatedAt    time.Time               `json:"created_at"`
	Status       Status                  `json:"status"`
	Agents       map[string]*AgentRecord `json:"agents"`
}

// Status represents the lifecycle status of a workflow
type Status string

const (
	StatusInitializing Status = "initializing"
)

// AgentStatus represents the liveness status of a registered agent
type AgentStatus string

const (
	AgentRegistered   AgentStatus = "registered"
	AgentActive       AgentStatus = "active"
	AgentUnresponsive AgentStatus = "unresponsive"
)

// AgentRecord is one agent's entry in the registry.
type AgentRecord struct {
	Perspective   string      `json:"perspective"`
	Status        AgentStatus `json:"status"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// Current is the current.json pointer in the base directory.
type Current struct {
	WorkflowID  string    `json:"workflow_id"`
	WorkflowDir string    `json:"workflow_dir"`
	StartedAt   time.Time `json:"started_at"`
}

// EventType categorizes audit events
type EventType string

const (
	EventMessage           EventType = "message"
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentUnresponsive EventType = "agent_unresponsive"
	EventWorkflowCleanup   EventType = "workflow_cleanup"
	EventTaskCompleted     EventType = "task_completed"
)

// Event is one line of logs/events.jsonl.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	EventType  EventType      `json:"event_type"`
	Data       map[string]any `json:"data"`
	Status     string         `json:"status"`
}

// ErrorType categorizes audit error records
type ErrorType string

const (
	ErrorAckTimeout ErrorType = "ack_timeout"
)

// ErrorRecord is one line of logs/errors.jsonl.
type ErrorRecord struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	ErrorType  ErrorType      `json:"error_type"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
}

// HealthReasonNoHeartbeat marks an agent that never wrote a heartbeat.
const HealthReasonNoHeartbeat = "no_heartbeat"

// AgentHealth is one agent's classification in a health check. LastSeen is
// the number of seconds since its last heartbeat and is nil when it never
// sent one.
type AgentHealth struct {
	AgentID  string   `json:"agentId"`
	LastSeen *float64 `json:"lastSeen"`
	Reason   string   `json:"reason,omitempty"`
}

// HealthReport partitions the registered agents by heartbeat freshness.
type HealthReport struct {
	Healthy   []AgentHealth `json:"healthy"`
	Unhealthy []AgentHealth `json:"unhealthy"`
}
