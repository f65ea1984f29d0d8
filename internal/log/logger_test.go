package log

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	events := []LogEvent{
		{Event: EventRunStarted, RunID: "run-1", Total: 5},
		{Event: EventStageStarted, PipelineID: "p-1", Stage: "evaluation"},
		{Event: EventStageRetry, PipelineID: "p-1", Stage: "evaluation", Attempt: 2, Reason: "rate limited"},
		{Event: EventRunComplete, RunID: "run-1", Reported: 3, Failed: 1, Abandoned: 1},
	}
	for _, e := range events {
		if err := logger.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("ReadAll returned %d events, want %d", len(got), len(events))
	}
	if got[0].Event != EventRunStarted || got[0].Total != 5 {
		t.Errorf("first event mismatch: %+v", got[0])
	}
	if got[2].Attempt != 2 || got[2].Reason != "rate limited" {
		t.Errorf("retry event mismatch: %+v", got[2])
	}
	for _, e := range got {
		if e.Time.IsZero() {
			t.Error("event time was not populated")
		}
	}
}

func TestReadAllMissingFile(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %d events", len(got))
	}
}

func TestTail(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := logger.Append(LogEvent{Event: EventStageCompleted, Attempt: i + 1}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tail, err := logger.Tail(3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("Tail returned %d events, want 3", len(tail))
	}
	if tail[2].Attempt != 10 {
		t.Errorf("last tail event attempt: got %d, want 10", tail[2].Attempt)
	}
}

func TestConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = logger.Append(LogEvent{Event: EventStageCompleted})
		}()
	}
	wg.Wait()

	got, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("got %d events, want 20", len(got))
	}

	// The log file lives under .labcoat/.
	if _, err := os.Stat(filepath.Join(dir, ".labcoat", "log.jsonl")); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}
