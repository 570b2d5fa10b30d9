package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// Handler processes one message read from the orchestrator channel.
type Handler interface {
	HandleMessage(ctx context.Context, msg workflow.Delivered) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg workflow.Delivered) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg workflow.Delivered) error {
	return f(ctx, msg)
}

// Mux dispatches messages by type. Types without a handler go to the
// fallback, which by default only logs them.
type Mux struct {
	mu       sync.RWMutex
	handlers map[workflow.MessageType]Handler
	fallback Handler
}

// NewMux creates a dispatcher whose fallback logs to logger.
func NewMux(logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mux{
		handlers: make(map[workflow.MessageType]Handler),
		fallback: LogHandler(logger),
	}
}

// Handle registers h for messages of type t, replacing any previous one.
func (m *Mux) Handle(t workflow.MessageType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
}

// HandleFunc registers a function for messages of type t.
func (m *Mux) HandleFunc(t workflow.MessageType, f func(ctx context.Context, msg workflow.Delivered) error) {
	m.Handle(t, HandlerFunc(f))
}

// Fallback replaces the handler for unregistered types.
func (m *Mux) Fallback(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = h
}

// HandleMessage implements Handler.
func (m *Mux) HandleMessage(ctx context.Context, msg workflow.Delivered) error {
	m.mu.RLock()
	h, ok := m.handlers[msg.Type]
	if !ok {
		h = m.fallback
	}
	m.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("no handler for message type %q", msg.Type)
	}
	return h.HandleMessage(ctx, msg)
}

// LogHandler returns a handler that records each message at info level.
func LogHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, msg workflow.Delivered) error {
		logger.Info("message",
			"id", msg.ID,
			"from", msg.From,
			"type", msg.Type,
			"line", msg.Line,
			"payload", string(msg.Payload),
		)
		return nil
	})
}
