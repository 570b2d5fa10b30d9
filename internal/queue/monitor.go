package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// ChannelEvent reports that a channel or ack file of a workflow changed.
// Channel is "broadcast", "orchestrator" or "agents/<id>"; Ack is set when
// the file was the agent's .ack log rather than its inbox.
type ChannelEvent struct {
	Channel string
	Path    string
	Ack     bool
}

// ChannelMonitor watches a workflow's channel directories. Its events are
// wake-up hints only: readers still decide what is new from their cursors,
// and events are dropped when nobody keeps up with them.
type ChannelMonitor struct {
	layout   Layout
	watcher  *fsnotify.Watcher
	events   chan ChannelEvent
	errors   chan error
	done     chan struct{}
	stopOnce sync.Once
}

// NewChannelMonitor creates a monitor for the given workflow, or the
// current one when workflowID is empty.
func (q *Queue) NewChannelMonitor(workflowID string) (*ChannelMonitor, error) {
	_, l, err := q.layout(workflowID)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &ChannelMonitor{
		layout:  l,
		watcher: watcher,
		events:  make(chan ChannelEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The workflow must already be initialized.
func (m *ChannelMonitor) Start() error {
	for _, dir := range []string{m.layout.ChannelDir(), m.layout.AgentsDir()} {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		if err := m.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go m.watch()
	return nil
}

// Stop stops the monitor. It is safe to call more than once.
func (m *ChannelMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.watcher.Close()
	})
}

// Events returns the channel of change notifications.
func (m *ChannelMonitor) Events() <-chan ChannelEvent {
	return m.events
}

// Errors returns the channel of watcher errors.
func (m *ChannelMonitor) Errors() <-chan error {
	return m.errors
}

func (m *ChannelMonitor) watch() {
	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ev, ok := m.classify(event.Name)
			if !ok {
				continue
			}
			select {
			case m.events <- ev:
			default:
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			select {
			case m.errors <- err:
			default:
			}
		}
	}
}

// classify maps a changed path to its channel.
func (m *ChannelMonitor) classify(path string) (ChannelEvent, bool) {
	name := filepath.Base(path)
	dir := filepath.Dir(path)

	switch {
	case path == m.layout.Broadcast():
		return ChannelEvent{Channel: workflow.Broadcast, Path: path}, true
	case path == m.layout.Orchestrator():
		return ChannelEvent{Channel: workflow.Orchestrator, Path: path}, true
	case dir != m.layout.AgentsDir():
		return ChannelEvent{}, false
	case strings.HasSuffix(name, ".jsonl"):
		return ChannelEvent{Channel: "agents/" + strings.TrimSuffix(name, ".jsonl"), Path: path}, true
	case strings.HasSuffix(name, ".ack"):
		return ChannelEvent{Channel: "agents/" + strings.TrimSuffix(name, ".ack"), Path: path, Ack: true}, true
	}
	return ChannelEvent{}, false
}
