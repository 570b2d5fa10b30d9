package queue

import (
	"sync"

	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// cursorKey identifies one channel of one workflow.
type cursorKey struct {
	dir     string
	channel string
}

// Reader is a consumer session. It remembers, per (workflow directory,
// channel), the index of the next unread line.
//
// Cursors live only in memory. A new Reader starts every channel at line 0
// and so re-delivers the whole history; callers that need exactly-once
// handling dedupe on message id. The broadcast cursor is per workflow, not
// per agent: one Reader serving several agents hands each broadcast to
// whichever of them reads first.
type Reader struct {
	q       *Queue
	mu      sync.Mutex
	cursors map[cursorKey]int
}

// NewReader starts a consumer session with every cursor at zero.
func (q *Queue) NewReader() *Reader {
	return &Reader{
		q:       q,
		cursors: make(map[cursorKey]int),
	}
}

// ReadMessages returns the unread messages of the agent's inbox followed by
// the unread broadcast messages, each group in line order. A channel's
// cursor moves to one past the last line returned from it and is left alone
// when nothing new was read.
func (r *Reader) ReadMessages(workflowID, agentID string) ([]workflow.Delivered, error) {
	if err := validateName("agent id", agentID); err != nil {
		return nil, err
	}

	_, l, err := r.q.layout(workflowID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inboxKey := cursorKey{dir: l.Dir(), channel: "agents/" + agentID}
	broadcastKey := cursorKey{dir: l.Dir(), channel: workflow.Broadcast}

	inbox, inboxNext, err := r.readChannel(inboxKey, l.Inbox(agentID))
	if err != nil {
		return nil, err
	}
	broadcast, broadcastNext, err := r.readChannel(broadcastKey, l.Broadcast())
	if err != nil {
		return nil, err
	}

	// Commit only once both channels were read.
	r.cursors[inboxKey] = inboxNext
	r.cursors[broadcastKey] = broadcastNext

	return append(inbox, broadcast...), nil
}

// readChannel returns the unread records of one channel and the cursor
// value that should follow them. The caller holds r.mu and commits the cursor.
func (r *Reader) readChannel(key cursorKey, path string) ([]workflow.Delivered, int, error) {
	from := r.cursors[key]

	records, err := logstore.ReadFrom[workflow.Message](path, from)
	if err != nil {
		return nil, from, err
	}
	if len(records) == 0 {
		return nil, from, nil
	}

	out := make([]workflow.Delivered, len(records))
	for i, rec := range records {
		out[i] = workflow.Delivered{Message: rec.Value, Line: rec.Line}
	}

	return out, records[len(records)-1].Line + 1, nil
}

// Cursor returns the next unread line for a channel: "broadcast",
// "orchestrator", or "agents/<id>". It is mainly useful to tests and
// diagnostics.
func (r *Reader) Cursor(workflowID, channel string) (int, error) {
	dir, err := r.q.WorkflowDir(workflowID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[cursorKey{dir: dir, channel: channel}], nil
}

// ReadOrchestrator returns the unread messages addressed to the orchestrator.
func (r *Reader) ReadOrchestrator(workflowID string) ([]workflow.Delivered, error) {
	_, l, err := r.q.layout(workflowID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cursorKey{dir: l.Dir(), channel: workflow.Orchestrator}
	msgs, next, err := r.readChannel(key, l.Orchestrator())
	if err != nil {
		return nil, err
	}
	r.cursors[key] = next
	return msgs, nil
}
