package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

func TestSendAckThenWait(t *testing.T) {
	q := newTestQueue(t)
	initWorkflow(t, q, "wf1")
	if _, err := q.RegisterAgent("wf1", "a1", "p"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	ack, err := q.SendAck("wf1", "a1", "msg_x", "")
	if err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	if ack.Status != workflow.AckStatusReceived || ack.MsgID != "msg_x" {
		t.Errorf("ack = %+v", ack)
	}

	start := time.Now()
	result, err := q.WaitForAck(context.Background(), "wf1", "a1", "msg_x", time.Second)
	if err != nil {
		t.Fatalf("WaitForAck: %v", err)
	}
	if !result.Success || result.Ack == nil || result.Ack.MsgID != "msg_x" {
		t.Fatalf("result = %+v", result)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("existing ack took %v to find", elapsed)
	}
}

func TestWaitForAckTimeout(t *testing.T) {
	q := newTestQueue(t)
	initWorkflow(t, q, "wf1")
	if _, err := q.RegisterAgent("wf1", "a1", "p"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if _, err := q.SendAck("wf1", "a1", "other", "done"); err != nil {
		t.Fatalf("SendAck: %v", err)
	}

	start := time.Now()
	result, err := q.WaitForAck(context.Background(), "wf1", "a1", "never", 300*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("WaitForAck: %v", err)
	}
	if result.Success || result.Error != workflow.AckTimeout || result.Ack != nil {
		t.Errorf("result = %+v, want timeout", result)
	}
	if elapsed < 300*time.Millisecond || elapsed >= 500*time.Millisecond {
		t.Errorf("timeout returned after %v, want [300ms, 500ms)", elapsed)
	}
}

func TestWaitForAckSeesLaterAck(t *testing.T) {
	q := newTestQueue(t, WithAckPollInterval(20*time.Millisecond))
	initWorkflow(t, q, "wf1")
	if _, err := q.RegisterAgent("wf1", "a1", "p"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		_, err := q.SendAck("wf1", "a1", "msg_late", "processed")
		done <- err
	}()

	result, err := q.WaitForAck(context.Background(), "wf1", "a1", "msg_late", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForAck: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	if !result.Success || result.Ack.Status != "processed" {
		t.Errorf("result = %+v", result)
	}
}

func TestWaitForAckFirstMatchWins(t *testing.T) {
	q := newTestQueue(t)
	initWorkflow(t, q, "wf1")

	for _, status := range []string{"received", "processed"} {
		if _, err := q.SendAck("wf1", "a1", "dup", status); err != nil {
			t.Fatalf("SendAck: %v", err)
		}
	}

	result, err := q.WaitForAck(context.Background(), "wf1", "a1", "dup", time.Second)
	if err != nil {
		t.Fatalf("WaitForAck: %v", err)
	}
	if result.Ack == nil || result.Ack.Status != "received" {
		t.Errorf("result = %+v, want the first ack", result)
	}
}

func TestWaitForAckContextCancelled(t *testing.T) {
	q := newTestQueue(t)
	initWorkflow(t, q, "wf1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.WaitForAck(ctx, "wf1", "a1", "never", 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled wait took %v", elapsed)
	}
}

func TestSendAckIsNotValidated(t *testing.T) {
	q := newTestQueue(t)
	initWorkflow(t, q, "wf1")

	// Neither the agent nor the message exist.
	if _, err := q.SendAck("wf1", "ghost", "msg_unknown", ""); err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	result, err := q.WaitForAck(context.Background(), "wf1", "ghost", "msg_unknown", time.Second)
	if err != nil || !result.Success {
		t.Errorf("result = %+v, %v", result, err)
	}
}
