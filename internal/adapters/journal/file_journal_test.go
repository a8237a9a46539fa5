package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ilegault/TDS-T8/internal/domain"
)

func newTestJournal(t *testing.T) (*FileJournal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	j, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func collect(t *testing.T, j *FileJournal) []domain.Event {
	t.Helper()
	var events []domain.Event
	if err := j.Replay(func(e domain.Event) error {
		events = append(events, e)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	return events
}

func TestJournalRoundTrip(t *testing.T) {
	j, _ := newTestJournal(t)
	ts := time.Unix(1700000000, 0).UTC()

	in := []domain.Event{
		{Time: ts, Type: domain.EventRunStarted, RunID: "run-1"},
		{Time: ts.Add(time.Minute), Type: domain.EventSafetyTrip, Sensor: "T1", Value: 160, Limit: 150},
		{Time: ts.Add(2 * time.Minute), Type: domain.EventSafetyReset},
	}
	for _, e := range in {
		if err := j.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	out := collect(t, j)
	if len(out) != len(in) {
		t.Fatalf("expected %d events, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Type != in[i].Type || !out[i].Time.Equal(in[i].Time) {
			t.Fatalf("event %d mismatch: got %+v want %+v", i, out[i], in[i])
		}
	}
	if out[1].Sensor != "T1" || out[1].Value != 160 || out[1].Limit != 150 {
		t.Fatalf("trip payload lost: %+v", out[1])
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	j, path := newTestJournal(t)
	if err := j.Append(domain.Event{Type: domain.EventRunStarted, RunID: "run-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if err := reopened.Append(domain.Event{Type: domain.EventRunCompleted, RunID: "run-1"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	out := collect(t, reopened)
	if len(out) != 2 || out[0].Type != domain.EventRunStarted || out[1].Type != domain.EventRunCompleted {
		t.Fatalf("unexpected events after reopen: %+v", out)
	}
}

func TestJournalToleratesTornTail(t *testing.T) {
	j, path := newTestJournal(t)
	if err := j.Append(domain.Event{Type: domain.EventRunStarted, RunID: "run-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString(`{"type":"run_ab`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	out := collect(t, j)
	if len(out) != 1 || out[0].Type != domain.EventRunStarted {
		t.Fatalf("torn tail must be skipped, got %+v", out)
	}
}

func TestJournalRejectsMidFileCorruption(t *testing.T) {
	j, path := newTestJournal(t)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	if err := j.Append(domain.Event{Type: domain.EventRunStarted}); err != nil {
		t.Fatalf("append: %v", err)
	}

	err = j.Replay(func(domain.Event) error { return nil })
	if err == nil {
		t.Fatalf("corruption before the final line must be reported")
	}
}
