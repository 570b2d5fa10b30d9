// Package state owns the per-workflow agent registry (state/agents.json) and
// the base directory's current-workflow pointer.
//
// Registry writes are read-modify-write of the whole document. A Store
// serializes them within one process; separate processes updating the same
// workflow are not coordinated and the last writer wins.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// Store serializes registry updates made through it.
type Store struct {
	mu sync.Mutex
}

// NewStore creates a registry store
func NewStore() *Store {
	return &Store{}
}

// NewRegistry builds the initial registry document for a workflow.
func NewRegistry(workflowID, workflowType, topic string, now time.Time) *workflow.Registry {
	return &workflow.Registry{
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Topic:        topic,
		CreatedAt:    now,
		Status:       workflow.StatusInitializing,
		Agents:       make(map[string]*workflow.AgentRecord),
	}
}

// Reset overwrites the workflow's registry with reg.
func (s *Store) Reset(workflowDir string, reg *workflow.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return NewPersistence(workflowDir).Save(reg)
}

// Load reads the workflow's registry.
func (s *Store) Load(workflowDir string) (*workflow.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return NewPersistence(workflowDir).Load()
}

// Update loads the registry, applies fn, and saves the result when fn
// reports a change.
func (s *Store) Update(workflowDir string, fn func(reg *workflow.Registry) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := NewPersistence(workflowDir)
	reg, err := p.Load()
	if err != nil {
		return err
	}

	changed, err := fn(reg)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	return p.Save(reg)
}

// PutAgent inserts or replaces an agent record. Re-registering resets the
// record rather than merging.
func PutAgent(reg *workflow.Registry, agentID, perspective string, now time.Time) {
	reg.Agents[agentID] = &workflow.AgentRecord{
		Perspective:   perspective,
		Status:        workflow.AgentRegistered,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
}

// TouchHeartbeat marks a registered agent active. It reports false, leaving
// the registry untouched, when the agent is unknown.
func TouchHeartbeat(reg *workflow.Registry, agentID string, at time.Time) bool {
	agent, exists := reg.Agents[agentID]
	if !exists {
		return false
	}

	agent.LastHeartbeat = at
	agent.Status = workflow.AgentActive
	return true
}

// AgentIDs returns the registered agent ids in sorted order.
func AgentIDs(reg *workflow.Registry) []string {
	ids := make([]string, 0, len(reg.Agents))
	for id := range reg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
