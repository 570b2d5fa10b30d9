package eventindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// populate creates a workflow with one registration, two sends and one
// ack timeout error, one second apart.
func populate(t *testing.T) (*queue.Queue, string, time.Time) {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	q := queue.New(filepath.Join(t.TempDir(), "workflow"), queue.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	if _, err := q.Init("wf1", "research", "topic"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := q.RegisterAgent("wf1", "a1", "architecture"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := q.Send("wf1", workflow.Orchestrator, "a1", workflow.MessageTaskAssign, map[string]int{"step": i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if _, err := q.LogError("wf1", workflow.ErrorAckTimeout, "no ack", map[string]any{"to": "a1"}); err != nil {
		t.Fatalf("LogError: %v", err)
	}

	dir, err := q.WorkflowDir("wf1")
	if err != nil {
		t.Fatalf("WorkflowDir: %v", err)
	}
	return q, dir, start
}

func TestExportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, dir, _ := populate(t)
	dbPath := filepath.Join(t.TempDir(), "events.db")

	res, err := Export(ctx, dbPath, dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Events != 3 || res.Errors != 1 {
		t.Errorf("first export = %+v, want 3 events and 1 error", res)
	}

	res, err = Export(ctx, dbPath, dir)
	if err != nil {
		t.Fatalf("Export again: %v", err)
	}
	if res.Events != 0 || res.Errors != 0 {
		t.Errorf("second export = %+v, want nothing new", res)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	q, dir, start := populate(t)
	dbPath := filepath.Join(t.TempDir(), "events.db")

	if _, err := Export(ctx, dbPath, dir); err != nil {
		t.Fatalf("Export: %v", err)
	}

	ix, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()

	all, err := ix.QueryEvents(ctx, QueryOpts{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if !all[0].Timestamp.After(all[2].Timestamp) {
		t.Errorf("events not newest first: %v then %v", all[0].Timestamp, all[2].Timestamp)
	}

	source, err := q.ReadEvents("wf1")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	newest := source[len(source)-1]
	if all[0].ID != newest.ID || !all[0].Timestamp.Equal(newest.Timestamp) {
		t.Errorf("newest = %+v, want %+v", all[0], newest)
	}
	if all[0].Data["to"] != "a1" {
		t.Errorf("data not preserved: %v", all[0].Data)
	}

	msgs, err := ix.QueryEvents(ctx, QueryOpts{Type: string(workflow.EventMessage)})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d message events, want 2", len(msgs))
	}

	limited, err := ix.QueryEvents(ctx, QueryOpts{Limit: 1})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	// Init and registration happen in the first seconds; the sends after.
	after := start.Add(4 * time.Second)
	late, err := ix.QueryEvents(ctx, QueryOpts{After: &after})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	for _, ev := range late {
		if ev.Timestamp.Before(after) {
			t.Errorf("event %s at %v is before %v", ev.ID, ev.Timestamp, after)
		}
	}
	if len(late) == 0 || len(late) == len(all) {
		t.Errorf("time filter returned %d of %d events", len(late), len(all))
	}

	none, err := ix.QueryEvents(ctx, QueryOpts{WorkflowID: "other"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("unknown workflow = %v, want empty slice", none)
	}

	errs, err := ix.QueryErrors(ctx, QueryOpts{Type: string(workflow.ErrorAckTimeout)})
	if err != nil {
		t.Fatalf("QueryErrors: %v", err)
	}
	if len(errs) != 1 || errs[0].Message != "no ack" || errs[0].Data["to"] != "a1" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestExportMissingLogs(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "events.db")

	res, err := Export(ctx, dbPath, filepath.Join(t.TempDir(), "empty"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Events != 0 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
}
