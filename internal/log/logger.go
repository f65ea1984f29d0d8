// Package log provides structured event logging.
// This file appends JSON events to log.jsonl.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants.
const (
	EventRunStarted       = "run_started"
	EventIdeasGenerated   = "ideas_generated"
	EventIdeaAbandoned    = "idea_abandoned"
	EventStageStarted     = "stage_started"
	EventStageRetry       = "stage_retry"
	EventStageCompleted   = "stage_completed"
	EventStageFailed      = "stage_failed"
	EventPipelineResumed  = "pipeline_resumed"
	EventPipelineReported = "pipeline_reported"
	EventPipelineFailed   = "pipeline_failed"
	EventAugmentProposed  = "augment_proposed"
	EventAugmentCommitted = "augment_committed"
	EventAugmentDiscarded = "augment_discarded"
	EventRunComplete      = "run_complete"
)

// LogEvent represents a single structured event written to the log.
type LogEvent struct {
	Time       time.Time              `json:"time"`
	Event      string                 `json:"event"`
	RunID      string                 `json:"run,omitempty"`
	PipelineID string                 `json:"pipeline,omitempty"`
	IdeaID     string                 `json:"idea,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Stage      string                 `json:"stage,omitempty"`
	Attempt    int                    `json:"attempt,omitempty"`
	Score      float64                `json:"score,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Ideas      int                    `json:"ideas,omitempty"`
	Reported   int                    `json:"reported,omitempty"`
	Failed     int                    `json:"failed,omitempty"`
	Abandoned  int                    `json:"abandoned,omitempty"`
	Total      int                    `json:"total,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
	Metrics    map[string]float64     `json:"metrics,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a log file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to .labcoat/log.jsonl inside dir.
// Creates the .labcoat/ directory if it does not already exist.
// Does not truncate an existing log file.
func NewLogger(dir string) (*Logger, error) {
	labDir := filepath.Join(dir, ".labcoat")
	if err := os.MkdirAll(labDir, 0755); err != nil {
		return nil, fmt.Errorf("create .labcoat directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(labDir, "log.jsonl"),
	}, nil
}

// Append writes a single LogEvent as one JSON line to the log file.
// If event.Time is the zero value, it is automatically set to time.Now().UTC().
// The file is opened in append mode, written to, and then closed.
// Thread-safe via mutex.
func (l *Logger) Append(event LogEvent) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	// Write the JSON line followed by a newline.
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}

	return nil
}

// ReadAll reads and parses all events from the log file.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Logger) ReadAll() ([]LogEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEvent{}, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse log line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	return events, nil
}

// Tail returns up to n most recent events from the log file. Used to feed
// recent run history into the augmentation stage prompt.
func (l *Logger) Tail(n int) ([]LogEvent, error) {
	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(events) <= n {
		return events, nil
	}
	return events[len(events)-n:], nil
}
