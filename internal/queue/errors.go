package queue

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every "missing workflow" condition.
var ErrNotFound = errors.New("not found")

var (
	// ErrNoActiveWorkflow means no workflow id was given and none is current.
	ErrNoActiveWorkflow = fmt.Errorf("no workflow specified or active: %w", ErrNotFound)

	// ErrWorkflowNotFound means the workflow directory does not exist.
	ErrWorkflowNotFound = fmt.Errorf("workflow %w", ErrNotFound)
)

// ErrInvalidName marks a workflow id, agent id or destination that cannot
// name a file in the layout.
var ErrInvalidName = errors.New("invalid name")
