// Package tui is the terminal dashboard for a running workflow.
package tui

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/miles990/multi-agent-workflow/internal/queue"
)

// Run starts the dashboard for workflowID and blocks until the user quits.
// Health is judged against threshold; zero means the queue default.
func Run(q *queue.Queue, workflowID string, threshold time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var monitor *queue.ChannelMonitor
	m, err := q.NewChannelMonitor(workflowID)
	if err == nil {
		if err = m.Start(); err != nil {
			m.Stop()
		}
	}
	if err != nil {
		logger.Warn("file monitor unavailable, refreshing on a timer", "err", err)
	} else {
		monitor = m
		defer monitor.Stop()
	}

	model := NewDashboardModel(q, workflowID, threshold, monitor)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err = p.Run()
	return err
}
