// Package server exposes one workflow's queue over a small JSON HTTP API, so
// agents that cannot share the filesystem semantics directly can still
// send, read, ack and heartbeat.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/config"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// maxWait caps /api/wait-ack below the write timeout.
const maxWait = 25 * time.Second

// Server is the HTTP API server for one workflow
type Server struct {
	q          *queue.Queue
	workflowID string
	ackTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	readers map[string]*queue.Reader

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates a new API server for workflowID. An empty id uses the
// queue's current workflow at request time.
func NewServer(q *queue.Queue, workflowID string, cfg config.Config, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		q:          q,
		workflowID: workflowID,
		ackTimeout: cfg.AckTimeout,
		logger:     logger,
		readers:    make(map[string]*queue.Reader),
		mux:        http.NewServeMux(),
	}

	// Queue endpoints
	s.mux.HandleFunc("/api/send", s.handleSend)
	s.mux.HandleFunc("/api/read", s.handleRead)
	s.mux.HandleFunc("/api/ack", s.handleAck)
	s.mux.HandleFunc("/api/wait-ack", s.handleWaitAck)
	s.mux.HandleFunc("/api/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/health", s.handleAgentsHealth)

	// Liveness
	s.mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the API's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until the server is shut down. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr, "workflow", s.workflowID)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Request/Response types

type SendRequest struct {
	From    string               `json:"from"`
	To      string               `json:"to"`
	Type    workflow.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

type AgentRequest struct {
	AgentID string `json:"agent_id"`
}

type AckRequest struct {
	AgentID string `json:"agent_id"`
	MsgID   string `json:"msg_id"`
	Status  string `json:"status,omitempty"`
}

type WaitAckRequest struct {
	AgentID   string `json:"agent_id"`
	MsgID     string `json:"msg_id"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type RegisterRequest struct {
	AgentID     string `json:"agent_id"`
	Perspective string `json:"perspective"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handlers

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" || req.Type == "" {
		s.jsonError(w, "from, to and type are required", http.StatusBadRequest)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	id, err := s.q.Send(s.workflowID, req.From, req.To, req.Type, payload)
	if err != nil {
		s.queueError(w, "send failed", err)
		return
	}

	s.jsonSuccess(w, map[string]string{"id": id})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		s.jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	msgs, err := s.reader(req.AgentID).ReadMessages(s.workflowID, req.AgentID)
	if err != nil {
		s.queueError(w, "read failed", err)
		return
	}
	if msgs == nil {
		msgs = []workflow.Delivered{}
	}

	s.jsonSuccess(w, msgs)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req AckRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.MsgID == "" {
		s.jsonError(w, "agent_id and msg_id are required", http.StatusBadRequest)
		return
	}

	ack, err := s.q.SendAck(s.workflowID, req.AgentID, req.MsgID, req.Status)
	if err != nil {
		s.queueError(w, "ack failed", err)
		return
	}

	s.jsonSuccess(w, ack)
}

func (s *Server) handleWaitAck(w http.ResponseWriter, r *http.Request) {
	var req WaitAckRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.MsgID == "" {
		s.jsonError(w, "agent_id and msg_id are required", http.StatusBadRequest)
		return
	}

	timeout := s.ackTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	timeout = min(timeout, maxWait)

	result, err := s.q.WaitForAck(r.Context(), s.workflowID, req.AgentID, req.MsgID, timeout)
	if err != nil {
		s.queueError(w, "wait failed", err)
		return
	}

	// A timeout is a normal outcome carried in the result.
	s.jsonSuccess(w, result)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		s.jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	at, err := s.q.UpdateHeartbeat(s.workflowID, req.AgentID)
	if err != nil {
		s.queueError(w, "heartbeat failed", err)
		return
	}

	s.jsonSuccess(w, map[string]any{"agent_id": req.AgentID, "at": at})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		s.jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	id, err := s.q.RegisterAgent(s.workflowID, req.AgentID, req.Perspective)
	if err != nil {
		s.queueError(w, "register failed", err)
		return
	}

	// A re-registered agent starts its inbox over.
	s.mu.Lock()
	delete(s.readers, id)
	s.mu.Unlock()

	s.jsonSuccess(w, map[string]string{"agent_id": id})
}

func (s *Server) handleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var threshold time.Duration
	if v := r.URL.Query().Get("threshold"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			s.jsonError(w, fmt.Sprintf("Invalid threshold %q", v), http.StatusBadRequest)
			return
		}
		threshold = time.Duration(secs * float64(time.Second))
	}

	report, err := s.q.CheckAgentsHealth(s.workflowID, threshold)
	if err != nil {
		s.queueError(w, "health check failed", err)
		return
	}

	s.jsonSuccess(w, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonSuccess(w, "OK")
}

// reader returns the agent's read session, creating it on first use.
func (s *Server) reader(agentID string) *queue.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.readers[agentID]
	if !ok {
		r = s.q.NewReader()
		s.readers[agentID] = r
	}
	return r
}

// Helper methods

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) queueError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	s.logger.Warn(action, "workflow", s.workflowID, "err", err)
	s.jsonError(w, fmt.Sprintf("%s: %v", action, err), status)
}

func (s *Server) jsonSuccess(w http.ResponseWriter, data any) {
	s.jsonResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, statusCode int) {
	s.jsonResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, statusCode int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}
