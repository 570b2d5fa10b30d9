// Package supervisor runs the coordinator side of a workflow: it drains the
// orchestrator channel, acknowledges messages that ask for it, watches agent
// health, and delivers messages that must be acknowledged.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/config"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// DefaultHealthEvery is how many polling ticks pass between health checks.
const DefaultHealthEvery = 10

// Supervisor coordinates one workflow.
type Supervisor struct {
	q          *queue.Queue
	workflowID string
	reader     *queue.Reader
	handler    Handler
	logger     *slog.Logger

	pollingInterval time.Duration
	ackTimeout      time.Duration
	maxRetries      int
	healthEvery     int
	healthThreshold time.Duration

	// unhealthy holds the agents reported by the previous health check.
	unhealthy map[string]bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHandler sets the handler for orchestrator messages.
func WithHandler(h Handler) Option {
	return func(s *Supervisor) { s.handler = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithHealthEvery sets how many ticks pass between health checks.
func WithHealthEvery(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.healthEvery = n
		}
	}
}

// WithHealthThreshold overrides queue.DefaultHealthThreshold.
func WithHealthThreshold(d time.Duration) Option {
	return func(s *Supervisor) { s.healthThreshold = d }
}

// New creates a supervisor for workflowID, which must be initialized. Timing
// comes from cfg.
func New(q *queue.Queue, workflowID string, cfg config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		q:               q,
		workflowID:      workflowID,
		reader:          q.NewReader(),
		logger:          slog.New(slog.DiscardHandler),
		pollingInterval: cfg.PollingInterval,
		ackTimeout:      cfg.AckTimeout,
		maxRetries:      cfg.MaxRetries,
		healthEvery:     DefaultHealthEvery,
		unhealthy:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = LogHandler(s.logger)
	}
	if s.pollingInterval <= 0 {
		s.pollingInterval = 500 * time.Millisecond
	}
	return s
}

// Run drains the orchestrator channel until ctx is done. It wakes on file
// events when a channel monitor can be started and on every polling tick
// regardless. Run returns nil when ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		events <-chan queue.ChannelEvent
		errs   <-chan error
	)
	monitor, err := s.q.NewChannelMonitor(s.workflowID)
	if err == nil {
		if err = monitor.Start(); err != nil {
			monitor.Stop()
		}
	}
	if err != nil {
		s.logger.Warn("file monitor unavailable, polling only", "err", err)
	} else {
		defer monitor.Stop()
		events = monitor.Events()
		errs = monitor.Errors()
	}

	if err := s.Poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			if ev.Channel != workflow.Orchestrator {
				continue
			}
			if err := s.Poll(ctx); err != nil {
				s.logger.Error("poll failed", "err", err)
			}

		case err := <-errs:
			s.logger.Warn("monitor error", "err", err)

		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.logger.Error("poll failed", "err", err)
			}

			ticks++
			if ticks%s.healthEvery == 0 {
				if _, err := s.CheckHealth(); err != nil {
					s.logger.Error("health check failed", "err", err)
				}
			}
		}
	}
}

// Poll reads the unread orchestrator messages and hands each to the
// handler. A message that requires an ack is acked with status "received"
// on its sender's ack log whether or not the handler succeeded.
func (s *Supervisor) Poll(ctx context.Context) error {
	msgs, err := s.reader.ReadOrchestrator(s.workflowID)
	if err != nil {
		return fmt.Errorf("failed to read orchestrator channel: %w", err)
	}

	for _, msg := range msgs {
		if err := s.handler.HandleMessage(ctx, msg); err != nil {
			s.logger.Warn("handler failed", "msg_id", msg.ID, "type", msg.Type, "err", err)
		}

		if !msg.RequiresAck {
			continue
		}
		if _, err := s.q.SendAck(s.workflowID, msg.From, msg.ID, workflow.AckStatusReceived); err != nil {
			s.logger.Warn("failed to ack message", "msg_id", msg.ID, "from", msg.From, "err", err)
		}
	}
	return nil
}

// CheckHealth runs a health check and records an agent_unresponsive event
// for every agent that was not already unhealthy at the previous check. It
// returns the ids of those newly unhealthy agents.
func (s *Supervisor) CheckHealth() ([]string, error) {
	report, err := s.q.CheckAgentsHealth(s.workflowID, s.healthThreshold)
	if err != nil {
		return nil, err
	}

	current := make(map[string]bool, len(report.Unhealthy))
	var fresh []string
	for _, h := range report.Unhealthy {
		current[h.AgentID] = true
		if s.unhealthy[h.AgentID] {
			continue
		}
		fresh = append(fresh, h.AgentID)

		data := map[string]any{"agent_id": h.AgentID}
		if h.LastSeen != nil {
			data["last_seen"] = *h.LastSeen
		}
		if h.Reason != "" {
			data["reason"] = h.Reason
		}
		if _, err := s.q.LogEvent(s.workflowID, workflow.EventAgentUnresponsive, data, "unresponsive"); err != nil {
			s.logger.Warn("failed to record unresponsive agent", "agent", h.AgentID, "err", err)
		}
		s.logger.Warn("agent unresponsive", "agent", h.AgentID, "reason", h.Reason)
	}
	s.unhealthy = current

	return fresh, nil
}

// ErrAckTimeout is returned by SendWithAck when no attempt was acknowledged.
var ErrAckTimeout = errors.New("ack timeout")

// SendWithAck sends a message to an agent and waits for its ack, resending
// up to MaxRetries times after a timeout. Each attempt is a new message with
// a new id. It returns the id of the last attempt. When every attempt timed
// out an ack_timeout error record is logged and the error wraps
// ErrAckTimeout.
func (s *Supervisor) SendWithAck(ctx context.Context, to string, msgType workflow.MessageType, payload any) (string, workflow.AckResult, error) {
	if to == workflow.Broadcast || to == workflow.Orchestrator {
		return "", workflow.AckResult{}, fmt.Errorf("cannot wait for an ack from %q", to)
	}

	var (
		msgID  string
		result workflow.AckResult
	)
	attempts := s.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := s.q.Send(s.workflowID, workflow.Orchestrator, to, msgType, payload)
		if err != nil {
			return msgID, workflow.AckResult{}, err
		}
		msgID = id

		result, err = s.q.WaitForAck(ctx, s.workflowID, to, msgID, s.ackTimeout)
		if err != nil {
			return msgID, result, err
		}
		if result.Success {
			return msgID, result, nil
		}
		if attempt < attempts {
			s.logger.Info("ack timeout, resending", "to", to, "msg_id", msgID, "attempt", attempt, "of", attempts)
		}
	}

	data := map[string]any{
		"message_id": msgID,
		"to":         to,
		"type":       string(msgType),
		"attempts":   attempts,
	}
	msg := fmt.Sprintf("no ack from %s after %d attempts", to, attempts)
	if _, err := s.q.LogError(s.workflowID, workflow.ErrorAckTimeout, msg, data); err != nil {
		s.logger.Warn("failed to record ack timeout", "msg_id", msgID, "err", err)
	}

	return msgID, result, fmt.Errorf("%s: %w", msg, ErrAckTimeout)
}
