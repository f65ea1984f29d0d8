// Package ui provides terminal output components for labcoat.
// This file implements the progress display shown while pipelines run.
package ui

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/labcoat-dev/labcoat/internal/research"
)

// PipelineState holds the display state of a single pipeline.
type PipelineState struct {
	ID      string
	Title   string
	Stage   research.Stage
	Elapsed time.Duration
	done    bool
}

// Progress prints pipeline transitions as they happen. On a TTY each
// transition gets a colored status line; piped output stays plain. Safe for
// concurrent use by the orchestrator's workers.
type Progress struct {
	mu         sync.Mutex
	pipelines  map[string]*PipelineState
	startTimes map[string]time.Time
	isTTY      bool
	started    time.Time
}

// NewProgress creates a Progress writer for one run.
func NewProgress() *Progress {
	return &Progress{
		pipelines:  make(map[string]*PipelineState),
		startTimes: make(map[string]time.Time),
		isTTY:      term.IsTerminal(int(os.Stdout.Fd())),
		started:    time.Now(),
	}
}

// PipelineStarted registers a pipeline when its worker picks it up.
func (p *Progress) PipelineStarted(id, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pipelines[id] = &PipelineState{ID: id, Title: title}
	p.startTimes[id] = time.Now()

	fmt.Printf("%s %s\n", p.tag("..", dim), title)
}

// PipelineFinished prints a pipeline's terminal stage.
func (p *Progress) PipelineFinished(id string, terminal research.Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.pipelines[id]
	if !ok {
		return
	}
	state.Stage = terminal
	state.done = true
	if start, ok := p.startTimes[id]; ok {
		state.Elapsed = time.Since(start)
	}

	fmt.Printf("%s %s (%s, %s)\n", p.stageTag(terminal), state.Title, terminal, state.Elapsed.Round(time.Second))
}

// Finish prints the closing count line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	reported, failed, abandoned := 0, 0, 0
	for _, state := range p.pipelines {
		if !state.done {
			continue
		}
		switch state.Stage {
		case research.StageReported:
			reported++
		case research.StageFailed:
			failed++
		case research.StageAbandoned:
			abandoned++
		}
	}

	fmt.Printf("\nDone in %s: %d reported", time.Since(p.started).Round(time.Second), reported)
	if failed > 0 {
		fmt.Printf(", %d failed", failed)
	}
	if abandoned > 0 {
		fmt.Printf(", %d abandoned", abandoned)
	}
	fmt.Println()
}

// ANSI color codes used for TTY output.
const (
	green = "32"
	red   = "31"
	dim   = "90"
)

func (p *Progress) stageTag(s research.Stage) string {
	switch s {
	case research.StageReported:
		return p.tag("ok", green)
	case research.StageFailed:
		return p.tag("!!", red)
	default:
		return p.tag("--", dim)
	}
}

// tag wraps a two-character marker in brackets, colored only on a TTY.
func (p *Progress) tag(marker, color string) string {
	if !p.isTTY {
		return "[" + marker + "]"
	}
	return fmt.Sprintf("\033[%sm[%s]\033[0m", color, marker)
}
