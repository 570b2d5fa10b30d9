package ids

import (
	"regexp"
	"sort"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^msg_\d{14}_[0-9a-f]{8}$`)

func TestNewAtFormat(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id := NewAt(PrefixMessage, at)

	if !idPattern.MatchString(id) {
		t.Fatalf("id %q does not match expected format", id)
	}
	if got := id[4:18]; got != "20260304050607" {
		t.Errorf("timestamp segment = %q, want 20260304050607", got)
	}
}

func TestNewAtConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	at := time.Date(2026, 3, 4, 13, 0, 0, 0, loc)

	id := NewAt(PrefixEvent, at)
	if got := id[4:18]; got != "20260304050000" {
		t.Errorf("timestamp segment = %q, want UTC 20260304050000", got)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(PrefixMessage)
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIDsSortByTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []string{
		NewAt(PrefixError, base),
		NewAt(PrefixError, base.Add(time.Second)),
		NewAt(PrefixError, base.Add(time.Hour)),
	}

	got := append([]string(nil), want[2], want[0], want[1])
	sort.Strings(got)

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
