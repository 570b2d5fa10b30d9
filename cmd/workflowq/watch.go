package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/supervisor"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// newWatchHandler dispatches orchestrator messages for `watch`. Completion
// reports are printed and recorded as task_completed events; everything
// else is logged.
func newWatchHandler(q *queue.Queue, workflowID string, out io.Writer, logger *slog.Logger) *supervisor.Mux {
	mux := supervisor.NewMux(logger)

	mux.HandleFunc(workflow.MessageTaskComplete, func(_ context.Context, msg workflow.Delivered) error {
		var report struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal(msg.Payload, &report); err != nil {
			return fmt.Errorf("failed to decode task_complete payload: %w", err)
		}

		fmt.Fprintf(out, "Task complete: %s: %s\n", msg.From, report.Output)

		data := map[string]any{
			"agent_id":   msg.From,
			"message_id": msg.ID,
			"output":     report.Output,
		}
		if _, err := q.LogEvent(workflowID, workflow.EventTaskCompleted, data, "completed"); err != nil {
			return fmt.Errorf("failed to record completion: %w", err)
		}
		return nil
	})

	return mux
}
