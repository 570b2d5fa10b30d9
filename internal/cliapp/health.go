package cliapp

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

var (
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("green"))
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("red"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle     = lipgloss.NewStyle().Bold(true)
)

// WriteHealth prints a health report as a table for people. Colours are
// only used when styled is set.
func WriteHealth(w io.Writer, report workflow.HealthReport, styled bool) error {
	render := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", render(titleStyle, fmt.Sprintf("Healthy (%d)", len(report.Healthy))))
	for _, h := range report.Healthy {
		fmt.Fprintf(&b, "  %s\n", render(healthyStyle, "● "+describe(h)))
	}
	fmt.Fprintf(&b, "%s\n", render(titleStyle, fmt.Sprintf("Unhealthy (%d)", len(report.Unhealthy))))
	for _, h := range report.Unhealthy {
		style := unhealthyStyle
		if h.Reason == workflow.HealthReasonNoHeartbeat {
			style = mutedStyle
		}
		fmt.Fprintf(&b, "  %s\n", render(style, "✗ "+describe(h)))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func describe(h workflow.AgentHealth) string {
	s := h.AgentID
	if h.LastSeen != nil {
		s += fmt.Sprintf("  last seen %.1fs ago", *h.LastSeen)
	}
	if h.Reason != "" {
		s += "  (" + h.Reason + ")"
	}
	return s
}
