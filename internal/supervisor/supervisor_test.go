package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/config"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

func setup(t *testing.T, opts ...queue.Option) (*queue.Queue, config.Config) {
	t.Helper()
	q := queue.New(filepath.Join(t.TempDir(), "workflow"), opts...)
	if _, err := q.Init("wf1", "research", "topic"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := q.RegisterAgent("wf1", "a1", "architecture"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	cfg := config.Default(t.TempDir())
	cfg.PollingInterval = 20 * time.Millisecond
	cfg.AckTimeout = 60 * time.Millisecond
	cfg.MaxRetries = 2
	return q, cfg
}

type recorder struct {
	mu   sync.Mutex
	msgs []workflow.Delivered
}

func (r *recorder) HandleMessage(_ context.Context, msg workflow.Delivered) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestPollHandlesAndAcks(t *testing.T) {
	q, cfg := setup(t)
	rec := &recorder{}
	s := New(q, "wf1", cfg, WithHandler(rec))

	ackID, err := q.Send("wf1", "a1", workflow.Orchestrator, workflow.MessageCheckpointRequest, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	plainID, err := q.Send("wf1", "a1", workflow.Orchestrator, "result", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("handled %d messages, want 2", rec.count())
	}

	result, err := q.WaitForAck(context.Background(), "wf1", "a1", ackID, 10*time.Millisecond)
	if err != nil || !result.Success {
		t.Errorf("ack for %s = %+v, %v", ackID, result, err)
	}
	result, err = q.WaitForAck(context.Background(), "wf1", "a1", plainID, 10*time.Millisecond)
	if err != nil || result.Success {
		t.Errorf("message without requires_ack was acked: %+v, %v", result, err)
	}

	// Nothing new on the second poll.
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("handled %d messages after second poll, want 2", rec.count())
	}
}

func TestPollAcksEvenWhenHandlerFails(t *testing.T) {
	q, cfg := setup(t)
	failing := HandlerFunc(func(context.Context, workflow.Delivered) error {
		return errors.New("boom")
	})
	s := New(q, "wf1", cfg, WithHandler(failing))

	id, err := q.Send("wf1", "a1", workflow.Orchestrator, workflow.MessageAbort, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	result, err := q.WaitForAck(context.Background(), "wf1", "a1", id, 10*time.Millisecond)
	if err != nil || !result.Success {
		t.Errorf("ack = %+v, %v", result, err)
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	q, cfg := setup(t)
	rec := &recorder{}
	s := New(q, "wf1", cfg, WithHandler(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		if _, err := q.Send("wf1", "a1", workflow.Orchestrator, "result", map[string]int{"n": i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for rec.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 3 {
		t.Errorf("handled %d messages, want 3", rec.count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCheckHealthReportsNewlyUnhealthyOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	q, cfg := setup(t, queue.WithClock(func() time.Time { return clock() }))
	s := New(q, "wf1", cfg)

	if _, err := q.UpdateHeartbeat("wf1", "a1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	fresh, err := s.CheckHealth()
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("fresh = %v, want none", fresh)
	}

	later := now.Add(time.Minute)
	clock = func() time.Time { return later }

	fresh, err = s.CheckHealth()
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if len(fresh) != 1 || fresh[0] != "a1" {
		t.Fatalf("fresh = %v, want [a1]", fresh)
	}

	fresh, err = s.CheckHealth()
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("agent reported twice: %v", fresh)
	}

	events, err := q.ReadEvents("wf1")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	var unresponsive int
	for _, ev := range events {
		if ev.EventType == workflow.EventAgentUnresponsive {
			unresponsive++
			if ev.Data["agent_id"] != "a1" || ev.Data["last_seen"] != float64(60) {
				t.Errorf("event data = %v", ev.Data)
			}
		}
	}
	if unresponsive != 1 {
		t.Errorf("got %d agent_unresponsive events, want 1", unresponsive)
	}
}

func TestHealthThresholdOption(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	q, cfg := setup(t, queue.WithClock(clock))

	if _, err := q.UpdateHeartbeat("wf1", "a1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	fresh, err := New(q, "wf1", cfg, WithHealthThreshold(2*time.Minute)).CheckHealth()
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("fresh = %v with a 2m threshold, want none", fresh)
	}

	fresh, err = New(q, "wf1", cfg).CheckHealth()
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("fresh = %v with the default threshold, want [a1]", fresh)
	}
}

func TestSendWithAckSucceeds(t *testing.T) {
	q, cfg := setup(t, queue.WithAckPollInterval(10*time.Millisecond))
	cfg.AckTimeout = 2 * time.Second
	s := New(q, "wf1", cfg)

	agentDone := make(chan error, 1)
	go func() {
		r := q.NewReader()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			msgs, err := r.ReadMessages("wf1", "a1")
			if err != nil {
				agentDone <- err
				return
			}
			if len(msgs) > 0 {
				_, err := q.SendAck("wf1", "a1", msgs[0].ID, "")
				agentDone <- err
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		agentDone <- errors.New("agent saw no message")
	}()

	id, result, err := s.SendWithAck(context.Background(), "a1", workflow.MessageTaskAssign, map[string]int{"step": 1})
	if err != nil {
		t.Fatalf("SendWithAck: %v", err)
	}
	if err := <-agentDone; err != nil {
		t.Fatalf("agent: %v", err)
	}
	if !result.Success || result.Ack.MsgID != id {
		t.Errorf("result = %+v, id = %s", result, id)
	}
}

func TestSendWithAckRetriesThenRecordsError(t *testing.T) {
	q, cfg := setup(t, queue.WithAckPollInterval(10*time.Millisecond))
	s := New(q, "wf1", cfg)

	_, result, err := s.SendWithAck(context.Background(), "a1", workflow.MessageTaskAssign, nil)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("err = %v, want ErrAckTimeout", err)
	}
	if result.Success || result.Error != workflow.AckTimeout {
		t.Errorf("result = %+v", result)
	}

	msgs, err := q.NewReader().ReadMessages("wf1", "a1")
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != cfg.MaxRetries+1 {
		t.Errorf("inbox has %d attempts, want %d", len(msgs), cfg.MaxRetries+1)
	}

	records, err := q.ReadErrors("wf1")
	if err != nil {
		t.Fatalf("ReadErrors: %v", err)
	}
	if len(records) != 1 || records[0].ErrorType != workflow.ErrorAckTimeout {
		t.Fatalf("error records = %+v", records)
	}
	if records[0].Data["attempts"] != float64(cfg.MaxRetries+1) {
		t.Errorf("attempts = %v", records[0].Data["attempts"])
	}
}

func TestSendWithAckRejectsSharedChannels(t *testing.T) {
	q, cfg := setup(t)
	s := New(q, "wf1", cfg)

	for _, to := range []string{workflow.Broadcast, workflow.Orchestrator} {
		if _, _, err := s.SendWithAck(context.Background(), to, workflow.MessageAbort, nil); err == nil {
			t.Errorf("SendWithAck(%s) succeeded", to)
		}
	}
}

func TestMuxDispatch(t *testing.T) {
	mux := NewMux(nil)
	var got []string
	mux.HandleFunc(workflow.MessageTaskAssign, func(_ context.Context, msg workflow.Delivered) error {
		got = append(got, "task:"+msg.ID)
		return nil
	})
	mux.Fallback(HandlerFunc(func(_ context.Context, msg workflow.Delivered) error {
		got = append(got, "other:"+msg.ID)
		return nil
	}))

	msgs := []workflow.Delivered{
		{Message: workflow.Message{ID: "1", Type: workflow.MessageTaskAssign}},
		{Message: workflow.Message{ID: "2", Type: "result"}},
	}
	for _, m := range msgs {
		if err := mux.HandleMessage(context.Background(), m); err != nil {
			t.Fatalf("HandleMessage: %v", err)
		}
	}

	if len(got) != 2 || got[0] != "task:1" || got[1] != "other:2" {
		t.Errorf("dispatch = %v", got)
	}
}

func TestMuxWithoutFallback(t *testing.T) {
	mux := NewMux(nil)
	mux.Fallback(nil)

	err := mux.HandleMessage(context.Background(), workflow.Delivered{Message: workflow.Message{Type: "x"}})
	if err == nil {
		t.Error("expected error without a fallback")
	}
}
