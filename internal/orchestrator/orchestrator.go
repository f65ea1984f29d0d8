// Package orchestrator runs a full research cycle: it resumes interrupted
// pipelines, admits freshly generated ideas, fans them out under a bounded
// concurrency limit, and aggregates the terminal outcomes into the run
// report. One failing pipeline never aborts its siblings.
package orchestrator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/pipeline"
	"github.com/labcoat-dev/labcoat/internal/report"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/internal/stage"
	"github.com/labcoat-dev/labcoat/internal/store"
)

// Runner is the full stage surface the orchestrator and its pipelines need.
// Satisfied by *stage.Runner.
type Runner interface {
	pipeline.Stages
	GenerateIdeas(ctx context.Context, n int) ([]research.Idea, *stage.Failure)
}

// Observer receives pipeline lifecycle notifications. Satisfied by
// *ui.Progress; nil observers are tolerated.
type Observer interface {
	PipelineStarted(id, title string)
	PipelineFinished(id string, terminal research.Stage)
	Finish()
}

// Orchestrator owns one run of the research cycle.
type Orchestrator struct {
	runID      string
	runner     Runner
	store      *store.Store
	logger     *log.Logger
	cfg        *config.Config
	augmenter  pipeline.Augmenter
	runDir     string
	resumeOnly bool
	observer   Observer
}

// Options carries the orchestrator's collaborators.
type Options struct {
	RunID      string
	Runner     Runner
	Store      *store.Store
	Logger     *log.Logger
	Config     *config.Config
	Augmenter  pipeline.Augmenter // nil when augmentation is disabled
	RunDir     string
	ResumeOnly bool     // only pick up checkpointed pipelines, admit no new ideas
	Observer   Observer // optional progress display
}

// New builds an orchestrator for one run.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		runID:      opts.RunID,
		runner:     opts.Runner,
		store:      opts.Store,
		logger:     opts.Logger,
		cfg:        opts.Config,
		augmenter:  opts.Augmenter,
		runDir:     opts.RunDir,
		resumeOnly: opts.ResumeOnly,
		observer:   opts.Observer,
	}
}

// Run executes the cycle and returns the run summary. An error is returned
// only when the run could not produce any pipelines at all; individual
// pipeline failures are recorded in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*report.RunSummary, error) {
	start := time.Now()
	o.logEvent(log.LogEvent{Event: log.EventRunStarted, Total: o.cfg.Run.NumIdeas})

	deps := pipeline.Deps{
		Stages:    o.runner,
		Store:     o.store,
		Logger:    o.logger,
		Config:    o.cfg,
		Augmenter: o.augmenter,
		RunDir:    o.runDir,
	}

	pipelines, err := o.resumePipelines(deps)
	if err != nil {
		return nil, err
	}

	if !o.resumeOnly {
		fresh, ideationFailure := o.admitIdeas(ctx, deps)
		pipelines = append(pipelines, fresh...)
		if len(pipelines) == 0 && ideationFailure != nil {
			return nil, fmt.Errorf("nothing to run: %w", ideationFailure)
		}
	}

	if len(pipelines) == 0 {
		return nil, fmt.Errorf("nothing to run: no ideas generated and no pipelines to resume")
	}

	outcomes := o.runAll(ctx, pipelines)

	sum := report.Summarize(o.runID, outcomes, time.Since(start))
	if err := report.WriteReport(o.runDir, sum); err != nil {
		return sum, fmt.Errorf("write run report: %w", err)
	}
	if err := o.store.SaveSummary(&store.Summary{
		RunID:      o.runID,
		Total:      sum.Total,
		Reported:   sum.Reported,
		Failed:     sum.Failed,
		Abandoned:  sum.Abandoned,
		ReportPath: sum.ReportPath,
	}); err != nil {
		return sum, fmt.Errorf("save run summary: %w", err)
	}

	o.logEvent(log.LogEvent{
		Event:      log.EventRunComplete,
		Total:      sum.Total,
		Reported:   sum.Reported,
		Failed:     sum.Failed,
		Abandoned:  sum.Abandoned,
		DurationMs: time.Since(start).Milliseconds(),
	})

	return sum, nil
}

// resumePipelines rebuilds every non-terminal checkpointed pipeline. They
// run before new ideas are admitted.
func (o *Orchestrator) resumePipelines(deps pipeline.Deps) ([]*pipeline.Pipeline, error) {
	cps, err := o.store.NonTerminal()
	if err != nil {
		return nil, fmt.Errorf("list resumable pipelines: %w", err)
	}

	var pipelines []*pipeline.Pipeline
	for _, cp := range cps {
		p, err := pipeline.Resume(cp, deps)
		if err != nil {
			// A corrupt checkpoint is dropped, not fatal to the run.
			o.logEvent(log.LogEvent{
				Event:      log.EventStageFailed,
				PipelineID: cp.PipelineID,
				Error:      err.Error(),
			})
			continue
		}
		o.logEvent(log.LogEvent{
			Event:      log.EventPipelineResumed,
			PipelineID: cp.PipelineID,
			Stage:      string(cp.Stage),
		})
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

// admitIdeas generates the run's ideas, drops duplicates by content hash,
// and wraps the survivors in fresh pipelines. An ideation failure is
// returned alongside so the caller can still run resumed pipelines.
func (o *Orchestrator) admitIdeas(ctx context.Context, deps pipeline.Deps) ([]*pipeline.Pipeline, *stage.Failure) {
	ideas, failure := o.runner.GenerateIdeas(ctx, o.cfg.Run.NumIdeas)
	if failure != nil {
		o.logEvent(log.LogEvent{Event: log.EventStageFailed, Stage: string(research.KindIdeation), Error: failure.Error()})
		return nil, failure
	}

	seen := make(map[string]bool, len(ideas))
	var pipelines []*pipeline.Pipeline
	for _, idea := range ideas {
		h := hashIdea(idea)
		if seen[h] {
			continue
		}
		seen[h] = true
		pipelines = append(pipelines, pipeline.New(o.runID, idea, deps))
	}

	o.logEvent(log.LogEvent{Event: log.EventIdeasGenerated, Ideas: len(pipelines)})
	return pipelines, nil
}

// runAll fans the pipelines out under the configured concurrency bound and
// collects every terminal outcome.
func (o *Orchestrator) runAll(ctx context.Context, pipelines []*pipeline.Pipeline) []*pipeline.Outcome {
	concurrency := int64(o.cfg.Run.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	var (
		mu       sync.Mutex
		outcomes []*pipeline.Outcome
		wg       sync.WaitGroup
	)

	for _, p := range pipelines {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled before this pipeline started: it stays checkpointed
			// for the next run.
			break
		}
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			defer sem.Release(1)

			if o.observer != nil {
				o.observer.PipelineStarted(p.ID(), p.Title())
			}
			outcome := p.Run(ctx)
			if o.observer != nil {
				o.observer.PipelineFinished(p.ID(), outcome.Stage)
			}

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if o.observer != nil {
		o.observer.Finish()
	}
	return outcomes
}

// hashIdea fingerprints an idea's normalized description for dedup.
func hashIdea(idea research.Idea) string {
	normalized := strings.ToLower(strings.TrimSpace(idea.Description))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (o *Orchestrator) logEvent(e log.LogEvent) {
	if o.logger == nil {
		return
	}
	e.RunID = o.runID
	_ = o.logger.Append(e)
}
