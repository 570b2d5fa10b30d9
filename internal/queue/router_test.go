package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

func TestRequiresAck(t *testing.T) {
	tests := []struct {
		msgType workflow.MessageType
		want    bool
	}{
		{workflow.MessageTaskAssign, true},
		{workflow.MessageCheckpointRequest, true},
		{workflow.MessageAbort, true},
		{"status_update", false},
		{"result", false},
		{"TASK_ASSIGN", false},
		{"", false},
	}

	q := newTestQueue(t)
	l := initWorkflow(t, q, "wf1")

	for _, tt := range tests {
		t.Run(string(tt.msgType), func(t *testing.T) {
			if got := tt.msgType.RequiresAck(); got != tt.want {
				t.Errorf("RequiresAck() = %v, want %v", got, tt.want)
			}

			id, err := q.Send("wf1", workflow.Orchestrator, workflow.Broadcast, tt.msgType, nil)
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			records, err := logstore.ReadAll[workflow.Message](l.Broadcast())
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			last := records[len(records)-1].Value
			if last.ID != id {
				t.Fatalf("last broadcast id = %s, want %s", last.ID, id)
			}
			if last.RequiresAck != tt.want {
				t.Errorf("stored requires_ack = %v, want %v", last.RequiresAck, tt.want)
			}
		})
	}
}

func lineCount(t *testing.T, path string) int {
	t.Helper()
	records, err := logstore.ReadAll[json.RawMessage](path)
	if err != nil {
		t.Fatalf("ReadAll %s: %v", path, err)
	}
	return len(records)
}

func TestSendRoutingIsExclusive(t *testing.T) {
	tests := []struct {
		to   string
		want func(Layout) string
	}{
		{workflow.Broadcast, Layout.Broadcast},
		{workflow.Orchestrator, Layout.Orchestrator},
		{"a1", func(l Layout) string { return l.Inbox("a1") }},
		{"a2", func(l Layout) string { return l.Inbox("a2") }},
	}

	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			q := newTestQueue(t)
			l := initWorkflow(t, q, "wf1")
			for _, a := range []string{"a1", "a2"} {
				if _, err := q.RegisterAgent("wf1", a, "p"); err != nil {
					t.Fatalf("RegisterAgent: %v", err)
				}
			}

			if l.Channel(tt.to) != tt.want(l) {
				t.Fatalf("Channel(%q) = %s, want %s", tt.to, l.Channel(tt.to), tt.want(l))
			}

			if _, err := q.Send("wf1", workflow.Orchestrator, tt.to, "note", map[string]string{"k": "v"}); err != nil {
				t.Fatalf("Send: %v", err)
			}

			channels := []string{l.Broadcast(), l.Orchestrator(), l.Inbox("a1"), l.Inbox("a2")}
			for _, ch := range channels {
				want := 0
				if ch == tt.want(l) {
					want = 1
				}
				if got := lineCount(t, ch); got != want {
					t.Errorf("%s has %d lines, want %d", filepath.Base(ch), got, want)
				}
			}
		})
	}
}

func TestSendToUnregisteredAgentCreatesInbox(t *testing.T) {
	q := newTestQueue(t)
	l := initWorkflow(t, q, "wf1")

	if _, err := os.Stat(l.Inbox("stranger")); !os.IsNotExist(err) {
		t.Fatalf("inbox should not exist yet, stat err = %v", err)
	}

	if _, err := q.Send("wf1", workflow.Orchestrator, "stranger", "note", nil); err != nil {
		t.Fatalf("Send to unregistered agent: %v", err)
	}
	if got := lineCount(t, l.Inbox("stranger")); got != 1 {
		t.Errorf("inbox has %d lines, want 1", got)
	}

	reg, _ := q.Registry("wf1")
	if _, ok := reg.Agents["stranger"]; ok {
		t.Error("send registered the agent")
	}
}

func TestSendRecordsMessageAndEvent(t *testing.T) {
	q := newTestQueue(t)
	l := initWorkflow(t, q, "wf1")

	id, err := q.Send("wf1", "a1", workflow.Orchestrator, "result", json.RawMessage(`{"ok": true}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	records, err := logstore.ReadAll[workflow.Message](l.Orchestrator())
	if err != nil || len(records) != 1 {
		t.Fatalf("orchestrator channel = %v, %v", records, err)
	}
	msg := records[0].Value
	if msg.ID != id || msg.From != "a1" || msg.To != workflow.Orchestrator || msg.Type != "result" {
		t.Errorf("message = %+v", msg)
	}
	if string(msg.Payload) != `{"ok":true}` {
		t.Errorf("payload = %s", msg.Payload)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	events, err := q.ReadEvents("wf1")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != workflow.EventMessage || ev.Status != "sent" || ev.WorkflowID != "wf1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Data["message_id"] != id || ev.Data["from"] != "a1" || ev.Data["to"] != workflow.Orchestrator {
		t.Errorf("event data = %v", ev.Data)
	}
}

func TestSendPayloadHandling(t *testing.T) {
	q := newTestQueue(t)
	l := initWorkflow(t, q, "wf1")

	if _, err := q.Send("wf1", workflow.Orchestrator, "a1", "note", nil); err != nil {
		t.Fatalf("Send nil payload: %v", err)
	}
	records, _ := logstore.ReadAll[workflow.Message](l.Inbox("a1"))
	if string(records[0].Value.Payload) != `{}` {
		t.Errorf("nil payload stored as %s, want {}", records[0].Value.Payload)
	}

	if _, err := q.Send("wf1", workflow.Orchestrator, "a1", "note", json.RawMessage(`{broken`)); err == nil {
		t.Error("expected error for invalid raw payload")
	}
	if _, err := q.Send("wf1", workflow.Orchestrator, "../escape", "note", nil); err == nil {
		t.Error("expected error for path-like destination")
	}
}
