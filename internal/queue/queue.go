// Package queue is a filesystem-backed message queue for one coordinator and
// any number of agent processes sharing a workflow directory tree.
//
// Every operation takes an explicit workflow id. An empty id falls back to
// the queue's current workflow, which is set by Init or LoadCurrent and is
// never consulted implicitly anywhere else.
package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/state"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

const (
	archiveDirName = "archive"

	// DefaultAckPollInterval is how often WaitForAck re-reads the ack log.
	DefaultAckPollInterval = 200 * time.Millisecond
)

// Queue operates on the workflows stored under one base directory.
type Queue struct {
	baseDir         string
	store           *state.Store
	logger          *slog.Logger
	now             func() time.Time
	ackPollInterval time.Duration

	mu      sync.RWMutex
	current string
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock replaces time.Now for every timestamp the queue writes or
// compares against.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithAckPollInterval overrides DefaultAckPollInterval.
func WithAckPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.ackPollInterval = d
		}
	}
}

// New creates a queue rooted at baseDir.
func New(baseDir string, opts ...Option) *Queue {
	q := &Queue{
		baseDir:         baseDir,
		store:           state.NewStore(),
		logger:          slog.New(slog.DiscardHandler),
		now:             time.Now,
		ackPollInterval: DefaultAckPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// BaseDir returns the directory holding current.json and the workflows.
func (q *Queue) BaseDir() string {
	return q.baseDir
}

// ArchiveDir is where archived workflows are moved.
func (q *Queue) ArchiveDir() string {
	return filepath.Join(q.baseDir, archiveDirName)
}

func (q *Queue) timestamp() time.Time {
	return q.now().UTC()
}

// Current returns the workflow id used when an operation gets an empty id.
func (q *Queue) Current() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

func (q *Queue) setCurrent(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = id
}

// WorkflowDir resolves workflowID, or the current workflow when it is empty,
// to its directory. It does not check that the directory exists.
func (q *Queue) WorkflowDir(workflowID string) (string, error) {
	id, err := q.resolve(workflowID)
	if err != nil {
		return "", err
	}
	return filepath.Join(q.baseDir, id), nil
}

func (q *Queue) resolve(workflowID string) (string, error) {
	if workflowID != "" {
		return workflowID, nil
	}
	if cur := q.Current(); cur != "" {
		return cur, nil
	}
	return "", ErrNoActiveWorkflow
}

func (q *Queue) layout(workflowID string) (string, Layout, error) {
	id, err := q.resolve(workflowID)
	if err != nil {
		return "", "", err
	}
	return id, Layout(filepath.Join(q.baseDir, id)), nil
}

// Init creates (or recreates) the workflow's directory tree, registry, empty
// channels and logs, and makes it the current workflow.
//
// Init is a hard reset: on an existing workflow it truncates every channel,
// ack, and log file, removes heartbeats, and replaces the registry.
func (q *Queue) Init(workflowID, workflowType, topic string) (string, error) {
	if err := validateName("workflow id", workflowID); err != nil {
		return "", err
	}

	l := Layout(filepath.Join(q.baseDir, workflowID))
	for _, dir := range []string{l.AgentsDir(), l.HeartbeatDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	now := q.timestamp()
	if err := q.store.Reset(l.Dir(), state.NewRegistry(workflowID, workflowType, topic, now)); err != nil {
		return "", err
	}

	files := []string{l.Broadcast(), l.Orchestrator(), l.Events(), l.Errors()}
	leftovers, err := filepath.Glob(filepath.Join(l.AgentsDir(), "*"))
	if err != nil {
		return "", fmt.Errorf("failed to list agent channels: %w", err)
	}
	files = append(files, leftovers...)
	for _, f := range files {
		if err := logstore.Reset(f); err != nil {
			return "", err
		}
	}

	heartbeats, err := filepath.Glob(filepath.Join(l.HeartbeatDir(), "*.ts"))
	if err != nil {
		return "", fmt.Errorf("failed to list heartbeats: %w", err)
	}
	for _, hb := range heartbeats {
		if err := os.Remove(hb); err != nil {
			return "", fmt.Errorf("failed to remove heartbeat %s: %w", hb, err)
		}
	}

	cur := workflow.Current{
		WorkflowID:  workflowID,
		WorkflowDir: l.Dir(),
		StartedAt:   now,
	}
	if err := state.SaveCurrent(q.baseDir, cur); err != nil {
		return "", err
	}

	q.setCurrent(workflowID)
	q.logger.Info("workflow initialized", "workflow", workflowID, "type", workflowType, "topic", topic)

	return workflowID, nil
}

// LoadCurrent reads current.json and makes its workflow the current one.
// It returns "" and no error when there is no pointer. When the pointer names
// a workflow whose directory is gone (for example after an interrupted
// cleanup) the id is returned together with an error wrapping
// ErrWorkflowNotFound, and the current workflow is left unchanged.
func (q *Queue) LoadCurrent() (string, error) {
	cur, err := state.LoadCurrent(q.baseDir)
	if err != nil {
		return "", err
	}
	if cur == nil || cur.WorkflowID == "" {
		return "", nil
	}

	if _, err := os.Stat(filepath.Join(q.baseDir, cur.WorkflowID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cur.WorkflowID, fmt.Errorf("current workflow %s points to a missing directory: %w", cur.WorkflowID, ErrWorkflowNotFound)
		}
		return cur.WorkflowID, fmt.Errorf("failed to stat current workflow: %w", err)
	}

	q.setCurrent(cur.WorkflowID)
	return cur.WorkflowID, nil
}

// CleanupResult reports what Cleanup did.
type CleanupResult struct {
	Archived    bool   `json:"archived"`
	ArchivePath string `json:"archive_path,omitempty"`
}

// Cleanup archives (moves under <base>/archive) or deletes a workflow
// directory, then drops the current pointer if it named this workflow.
//
// The steps are not atomic: a crash between them leaves a current pointer to
// a missing directory, which LoadCurrent reports.
func (q *Queue) Cleanup(workflowID string, archive bool) (CleanupResult, error) {
	if err := validateName("workflow id", workflowID); err != nil {
		return CleanupResult{}, err
	}

	dir := filepath.Join(q.baseDir, workflowID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CleanupResult{}, fmt.Errorf("%s: %w", workflowID, ErrWorkflowNotFound)
		}
		return CleanupResult{}, fmt.Errorf("failed to stat workflow: %w", err)
	}

	var result CleanupResult
	if archive {
		if _, err := q.LogEvent(workflowID, workflow.EventWorkflowCleanup, nil, "archived"); err != nil {
			q.logger.Warn("failed to record cleanup event", "workflow", workflowID, "err", err)
		}

		if err := os.MkdirAll(q.ArchiveDir(), 0755); err != nil {
			return CleanupResult{}, fmt.Errorf("failed to create archive directory: %w", err)
		}
		target := filepath.Join(q.ArchiveDir(), workflowID)
		if err := os.Rename(dir, target); err != nil {
			return CleanupResult{}, fmt.Errorf("failed to archive workflow: %w", err)
		}
		result = CleanupResult{Archived: true, ArchivePath: target}
	} else {
		if err := os.RemoveAll(dir); err != nil {
			return CleanupResult{}, fmt.Errorf("failed to delete workflow: %w", err)
		}
	}

	cur, err := state.LoadCurrent(q.baseDir)
	if err != nil {
		return result, err
	}
	if cur != nil && cur.WorkflowID == workflowID {
		if err := state.ClearCurrent(q.baseDir); err != nil {
			return result, err
		}
	}

	q.mu.Lock()
	if q.current == workflowID {
		q.current = ""
	}
	q.mu.Unlock()

	q.logger.Info("workflow cleaned up", "workflow", workflowID, "archived", archive)
	return result, nil
}

// validateName rejects ids that would escape or collide with the layout.
func validateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: %s is required", ErrInvalidName, kind)
	case name == "." || name == "..", strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	case name == archiveDirName && kind == "workflow id":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
