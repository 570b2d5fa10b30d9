// Package cliapp holds the setup and output helpers shared by the workflowq
// and workflowq-agent commands.
package cliapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/miles990/multi-agent-workflow/internal/config"
	"github.com/miles990/multi-agent-workflow/internal/queue"
)

// Env is what every command needs.
type Env struct {
	Config config.Config
	Queue  *queue.Queue
	Logger *slog.Logger
}

// LoadDotEnv loads the first of paths that exists into the environment.
// Variables already set are kept. It reports which file was loaded.
func LoadDotEnv(paths ...string) string {
	for _, envFile := range paths {
		if err := godotenv.Load(envFile); err == nil {
			return envFile
		}
	}
	return ""
}

// NewLogger returns a text logger on w at info level, or debug when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup loads .env and the project config, then opens the queue and adopts
// the current workflow pointer. A pointer to a missing workflow is logged
// and ignored so that init and cleanup still work.
func Setup(verbose bool) (*Env, error) {
	logger := NewLogger(os.Stderr, verbose)

	if f := LoadDotEnv(".env"); f != "" {
		logger.Debug("loaded environment file", "path", f)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.WorkflowRoot(),
		queue.WithLogger(logger),
		queue.WithAckPollInterval(cfg.AckPollInterval),
	)

	if _, err := q.LoadCurrent(); err != nil {
		if !errors.Is(err, queue.ErrWorkflowNotFound) {
			return nil, err
		}
		logger.Warn("ignoring stale current workflow", "err", err)
	}

	logger.Debug("queue ready", "base", q.BaseDir(), "workflow", q.Current())
	return &Env{Config: cfg, Queue: q, Logger: logger}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// PrintJSON writes v as indented JSON followed by a newline.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ParsePayload validates a JSON payload argument. An empty argument means
// no payload.
func ParsePayload(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("payload is not valid JSON: %s", arg)
	}
	return json.RawMessage(arg), nil
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
