package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// recentLimit is how many events and errors the dashboard shows.
const recentLimit = 50

// PaneType represents which pane is focused
type PaneType int

const (
	EventsPane PaneType = iota
	AgentsPane
)

// Snapshot is one read of a workflow's state.
type Snapshot struct {
	Registry *workflow.Registry
	Health   workflow.HealthReport
	Events   []workflow.Event
	Errors   []workflow.ErrorRecord
	Err      error
	At       time.Time
}

// DashboardModel shows a workflow's recent audit events next to its agents
// and their health.
type DashboardModel struct {
	q          *queue.Queue
	workflowID string
	threshold  time.Duration
	monitor    *queue.ChannelMonitor

	snapshot       Snapshot
	eventsViewport viewport.Model
	agentsViewport viewport.Model
	width          int
	height         int
	focusedPane    PaneType
}

// NewDashboardModel creates a dashboard for workflowID. monitor may be nil,
// in which case the view only refreshes on its tick.
func NewDashboardModel(q *queue.Queue, workflowID string, threshold time.Duration, monitor *queue.ChannelMonitor) DashboardModel {
	return DashboardModel{
		q:              q,
		workflowID:     workflowID,
		threshold:      threshold,
		monitor:        monitor,
		eventsViewport: viewport.New(80, 30),
		agentsViewport: viewport.New(30, 30),
		focusedPane:    EventsPane,
	}
}

func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.refresh(),
		m.tick(),
		m.waitForChange(),
	)
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "Q":
			return m, tea.Quit

		case "tab":
			if m.focusedPane == EventsPane {
				m.focusedPane = AgentsPane
			} else {
				m.focusedPane = EventsPane
			}
			return m, nil

		case "r", "R":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Split 70/30
		mainWidth := int(float64(msg.Width) * 0.70)
		sideWidth := msg.Width - mainWidth - 6

		m.eventsViewport.Width = mainWidth - 4
		m.eventsViewport.Height = msg.Height - 8
		m.agentsViewport.Width = sideWidth - 4
		m.agentsViewport.Height = msg.Height - 8

		m.setContent()
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case ChannelMsg:
		return m, tea.Batch(m.refresh(), m.waitForChange())

	case SnapshotMsg:
		m.snapshot = Snapshot(msg)
		m.setContent()
		return m, nil
	}

	if m.focusedPane == EventsPane {
		m.eventsViewport, cmd = m.eventsViewport.Update(msg)
	} else {
		m.agentsViewport, cmd = m.agentsViewport.Update(msg)
	}
	return m, cmd
}

func (m DashboardModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	mainWidth := int(float64(m.width) * 0.70)
	sideWidth := m.width - mainWidth - 2

	mainColor := lipgloss.Color("63")
	sideColor := lipgloss.Color("205")
	if m.focusedPane == EventsPane {
		mainColor = lipgloss.Color("cyan")
	} else {
		sideColor = lipgloss.Color("cyan")
	}

	mainStyle := lipgloss.NewStyle().
		Width(mainWidth).
		Height(m.height - 4).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(mainColor).
		Padding(1, 2)

	sideStyle := lipgloss.NewStyle().
		Width(sideWidth).
		Height(m.height - 4).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(sideColor).
		Padding(1, 2)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		mainStyle.Render(m.eventsViewport.View()),
		sideStyle.Render(m.agentsViewport.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

func (m *DashboardModel) setContent() {
	m.eventsViewport.SetContent(m.renderEvents())
	m.agentsViewport.SetContent(m.renderAgents())
}

func (m *DashboardModel) renderHeader() string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 2)

	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	title := fmt.Sprintf("Workflow - %s", m.workflowID)
	info := "Loading..."
	if reg := m.snapshot.Registry; reg != nil {
		title = fmt.Sprintf("Workflow - %s (%s)", reg.WorkflowID, reg.WorkflowType)
		info = fmt.Sprintf("Topic: %s | Agents: %d | Updated: %s",
			reg.Topic,
			len(reg.Agents),
			m.snapshot.At.Format("15:04:05"))
	}
	if m.snapshot.Err != nil {
		info = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Render(m.snapshot.Err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(title),
		infoStyle.Render(info),
	)
}

func (m *DashboardModel) renderEvents() string {
	var content strings.Builder

	content.WriteString(lipgloss.NewStyle().Bold(true).Render("Recent Events:"))
	content.WriteString("\n")
	if len(m.snapshot.Events) == 0 {
		content.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Render("No events yet"))
		content.WriteString("\n")
	}
	for _, ev := range m.snapshot.Events {
		content.WriteString(renderEvent(ev))
		content.WriteString("\n")
	}

	if len(m.snapshot.Errors) > 0 {
		content.WriteString("\n")
		content.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("red")).Render("Errors:"))
		content.WriteString("\n")
		for _, er := range m.snapshot.Errors {
			line := fmt.Sprintf("✗ [%s] %s: %s", er.Timestamp.Local().Format("15:04:05"), er.ErrorType, er.Message)
			content.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Render(line))
			content.WriteString("\n")
		}
	}

	return content.String()
}

func renderEvent(ev workflow.Event) string {
	var icon string
	var color lipgloss.Color

	switch ev.EventType {
	case workflow.EventMessage:
		icon = "▶"
		color = lipgloss.Color("cyan")
	case workflow.EventAgentRegistered:
		icon = "✓"
		color = lipgloss.Color("green")
	case workflow.EventAgentUnresponsive:
		icon = "!"
		color = lipgloss.Color("yellow")
	default:
		icon = "•"
		color = lipgloss.Color("240")
	}

	detail := ""
	switch ev.EventType {
	case workflow.EventMessage:
		detail = fmt.Sprintf(" %v → %v (%v)", ev.Data["from"], ev.Data["to"], ev.Data["type"])
	case workflow.EventAgentRegistered, workflow.EventAgentUnresponsive:
		detail = fmt.Sprintf(" %v", ev.Data["agent_id"])
	}

	return lipgloss.NewStyle().
		Foreground(color).
		Render(fmt.Sprintf("%s [%s] %s%s", icon, ev.Timestamp.Local().Format("15:04:05"), ev.EventType, detail))
}

func (m *DashboardModel) renderAgents() string {
	var content strings.Builder

	reg := m.snapshot.Registry
	count := 0
	if reg != nil {
		count = len(reg.Agents)
	}
	content.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render(fmt.Sprintf("Agents (%d)", count)))
	content.WriteString("\n\n")

	if count == 0 {
		content.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Render("No registered agents"))
		return content.String()
	}

	health := make(map[string]workflow.AgentHealth)
	healthy := make(map[string]bool)
	for _, h := range m.snapshot.Health.Healthy {
		health[h.AgentID] = h
		healthy[h.AgentID] = true
	}
	for _, h := range m.snapshot.Health.Unhealthy {
		health[h.AgentID] = h
	}

	ids := make([]string, 0, len(reg.Agents))
	for id := range reg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		content.WriteString(renderAgentCard(id, reg.Agents[id], health[id], healthy[id]))
		content.WriteString("\n")
	}

	return content.String()
}

func renderAgentCard(id string, rec *workflow.AgentRecord, h workflow.AgentHealth, healthy bool) string {
	var statusIcon string
	var statusColor lipgloss.Color

	switch {
	case healthy:
		statusIcon = "●"
		statusColor = lipgloss.Color("green")
	case h.Reason == workflow.HealthReasonNoHeartbeat:
		statusIcon = "⋯"
		statusColor = lipgloss.Color("240")
	default:
		statusIcon = "✗"
		statusColor = lipgloss.Color("red")
	}

	seen := "never"
	if h.LastSeen != nil {
		seen = fmt.Sprintf("%s ago", (time.Duration(*h.LastSeen * float64(time.Second))).Round(time.Second))
	}

	card := fmt.Sprintf("%s %s\n  Perspective: %s\n  Status: %s\n  Heartbeat: %s",
		statusIcon,
		id,
		rec.Perspective,
		rec.Status,
		seen)

	return lipgloss.NewStyle().
		Foreground(statusColor).
		Render(card)
}

func (m *DashboardModel) renderFooter() string {
	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Padding(1, 2)

	return helpStyle.Render("[Tab] Switch pane | [R] Refresh | [Q] Quit")
}

// refresh reads a new snapshot off the UI goroutine.
func (m DashboardModel) refresh() tea.Cmd {
	q, id, threshold := m.q, m.workflowID, m.threshold
	return func() tea.Msg {
		return SnapshotMsg(Load(q, id, threshold))
	}
}

// Load reads the registry, a health report, and the most recent events and
// errors of a workflow. The first failure is kept in Err.
func Load(q *queue.Queue, workflowID string, threshold time.Duration) Snapshot {
	snap := Snapshot{At: time.Now()}

	health, err := q.CheckAgentsHealth(workflowID, threshold)
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Health = health

	if snap.Registry, err = q.Registry(workflowID); err != nil {
		snap.Err = err
		return snap
	}

	events, err := q.ReadEvents(workflowID)
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Events = newestFirst(events)

	errs, err := q.ReadErrors(workflowID)
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Errors = newestFirst(errs)

	return snap
}

// newestFirst returns up to recentLimit items from the end of list, reversed.
func newestFirst[T any](list []T) []T {
	n := min(len(list), recentLimit)
	out := make([]T, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}

func (m DashboardModel) tick() tea.Cmd {
	return tea.Tick(time.Second*2, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForChange blocks until the channel monitor reports a write.
func (m DashboardModel) waitForChange() tea.Cmd {
	if m.monitor == nil {
		return nil
	}
	events := m.monitor.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return ChannelMsg(ev)
	}
}

// Custom messages
type TickMsg time.Time
type SnapshotMsg Snapshot
type ChannelMsg queue.ChannelEvent
