package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/state"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// DefaultHealthThreshold is how old a heartbeat may be before its agent is
// considered unresponsive.
const DefaultHealthThreshold = 30 * time.Second

// HealthReasonInvalidHeartbeat marks a heartbeat file that does not hold a
// parseable timestamp.
const HealthReasonInvalidHeartbeat = "invalid_heartbeat"

// UpdateHeartbeat replaces the agent's heartbeat file with the current
// time. The file is swapped in by rename, so a concurrent health check
// sees either the previous or the new timestamp. When the agent is registered its record becomes active with a fresh
// last_heartbeat; an unregistered agent only gets the file.
func (q *Queue) UpdateHeartbeat(workflowID, agentID string) (time.Time, error) {
	if err := validateName("agent id", agentID); err != nil {
		return time.Time{}, err
	}

	id, l, err := q.layout(workflowID)
	if err != nil {
		return time.Time{}, err
	}

	now := q.timestamp()
	if err := state.WriteFileAtomic(l.Heartbeat(agentID), []byte(now.Format(time.RFC3339Nano))); err != nil {
		return time.Time{}, fmt.Errorf("failed to write heartbeat: %w", err)
	}

	err = q.store.Update(l.Dir(), func(reg *workflow.Registry) (bool, error) {
		return state.TouchHeartbeat(reg, agentID, now), nil
	})
	if err != nil {
		return time.Time{}, err
	}

	q.logger.Debug("heartbeat", "workflow", id, "agent", agentID)
	return now, nil
}

// CheckAgentsHealth classifies every registered agent by the age of its
// heartbeat file. An agent is healthy when the age is at most threshold;
// otherwise it is unhealthy and its registry status becomes unresponsive.
// An agent without a heartbeat file is unhealthy with reason "no_heartbeat",
// has no LastSeen, and keeps its status. The registry is written once, after
// every agent was evaluated. A non-positive threshold means
// DefaultHealthThreshold.
func (q *Queue) CheckAgentsHealth(workflowID string, threshold time.Duration) (workflow.HealthReport, error) {
	if threshold <= 0 {
		threshold = DefaultHealthThreshold
	}

	id, l, err := q.layout(workflowID)
	if err != nil {
		return workflow.HealthReport{}, err
	}

	report := workflow.HealthReport{
		Healthy:   []workflow.AgentHealth{},
		Unhealthy: []workflow.AgentHealth{},
	}
	now := q.now()

	err = q.store.Update(l.Dir(), func(reg *workflow.Registry) (bool, error) {
		for _, agentID := range state.AgentIDs(reg) {
			last, err := readHeartbeat(l.Heartbeat(agentID))
			switch {
			case errors.Is(err, fs.ErrNotExist):
				report.Unhealthy = append(report.Unhealthy, workflow.AgentHealth{
					AgentID: agentID,
					Reason:  workflow.HealthReasonNoHeartbeat,
				})
				continue
			case err != nil:
				q.logger.Warn("unreadable heartbeat", "workflow", id, "agent", agentID, "err", err)
				reg.Agents[agentID].Status = workflow.AgentUnresponsive
				report.Unhealthy = append(report.Unhealthy, workflow.AgentHealth{
					AgentID: agentID,
					Reason:  HealthReasonInvalidHeartbeat,
				})
				continue
			}

			elapsed := now.Sub(last)
			seconds := elapsed.Seconds()
			entry := workflow.AgentHealth{AgentID: agentID, LastSeen: &seconds}

			if elapsed > threshold {
				reg.Agents[agentID].Status = workflow.AgentUnresponsive
				report.Unhealthy = append(report.Unhealthy, entry)
			} else {
				report.Healthy = append(report.Healthy, entry)
			}
		}
		return true, nil
	})
	if err != nil {
		return workflow.HealthReport{}, err
	}

	return report, nil
}

func readHeartbeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse heartbeat: %w", err)
	}
	return t, nil
}
