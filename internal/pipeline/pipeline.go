// Package pipeline drives a single idea through the research lifecycle:
// evaluation, design, coding, execution, refinement, benchmarking, optional
// self-augmentation, and reporting. The pipeline checkpoints after every
// completed stage so an interrupted run resumes at the first stage it never
// finished.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/labcoat-dev/labcoat/internal/augment"
	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/internal/stage"
	"github.com/labcoat-dev/labcoat/internal/store"
)

// Stages is the slice of the stage runner a pipeline needs. Satisfied by
// *stage.Runner.
type Stages interface {
	EvaluateIdea(ctx context.Context, pipelineID string, idea research.Idea) (float64, string, *stage.Failure)
	DesignExperiment(ctx context.Context, pipelineID string, idea research.Idea) (*research.Plan, *stage.Failure)
	GenerateCode(ctx context.Context, pipelineID string, plan *research.Plan) (*research.CodeArtifact, *stage.Failure)
	ExecuteExperiment(ctx context.Context, pipelineID string, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure)
	RefinePlan(ctx context.Context, pipelineID string, plan *research.Plan, result *research.ExecutionResult) (*research.Plan, *stage.Failure)
}

// Augmenter runs the optional self-augmentation stage. Satisfied by
// *augment.Augmentor.
type Augmenter interface {
	Run(ctx context.Context, pipelineID, findings string) (*augment.Result, error)
}

// Outcome is the terminal record of one pipeline, consumed by the
// orchestrator and the run report.
type Outcome struct {
	PipelineID string
	Idea       research.Idea
	Stage      research.Stage // always terminal
	Experiment *research.Experiment
	Benchmark  map[string]float64
	ReportPath string
	Augmented  bool
	Failure    *stage.Failure
	Duration   time.Duration
}

// state is the checkpoint payload. Everything a resumed pipeline needs to
// continue lives here; the stage itself is a checkpoint column.
type state struct {
	Idea       research.Idea        `json:"idea"`
	Experiment *research.Experiment `json:"experiment,omitempty"`
	Benchmark  map[string]float64   `json:"benchmark,omitempty"`
	Augmented  bool                 `json:"augmented,omitempty"`
}

// Deps carries the shared collaborators a pipeline runs against.
type Deps struct {
	Stages    Stages
	Store     *store.Store
	Logger    *log.Logger
	Config    *config.Config
	Augmenter Augmenter // nil when augmentation is disabled
	RunDir    string
}

// Pipeline walks one idea from Generated to a terminal stage.
type Pipeline struct {
	id    string
	runID string
	stage research.Stage
	st    state
	deps  Deps
}

// New starts a pipeline for a freshly generated idea.
func New(runID string, idea research.Idea, deps Deps) *Pipeline {
	return &Pipeline{
		id:    uuid.New().String(),
		runID: runID,
		stage: research.StageGenerated,
		st:    state{Idea: idea},
		deps:  deps,
	}
}

// Resume rebuilds a pipeline from a persisted checkpoint.
func Resume(cp *store.Checkpoint, deps Deps) (*Pipeline, error) {
	var st state
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint state for %s: %w", cp.PipelineID, err)
	}
	return &Pipeline{
		id:    cp.PipelineID,
		runID: cp.RunID,
		stage: cp.Stage,
		st:    st,
		deps:  deps,
	}, nil
}

// ID returns the pipeline's id.
func (p *Pipeline) ID() string { return p.id }

// Title returns the idea's title for display.
func (p *Pipeline) Title() string { return p.st.Idea.Title }

// Run drives the pipeline to a terminal stage and returns its outcome. Run
// never returns an error: failures terminate the pipeline, they do not
// escape it.
func (p *Pipeline) Run(ctx context.Context) *Outcome {
	start := time.Now()

	if err := p.checkpoint(); err != nil {
		return p.finish(research.StageFailed, &stage.Failure{
			Kind: stage.FailureFatal, Err: err,
		}, start)
	}

	for !p.stage.Terminal() {
		var next research.Stage
		var failure *stage.Failure

		switch p.stage {
		case research.StageGenerated:
			next, failure = p.evaluate(ctx)
		case research.StageEvaluated:
			next, failure = p.design(ctx)
		case research.StageDesigned:
			next, failure = p.code(ctx)
		case research.StageExecuting:
			next, failure = p.execute(ctx)
		case research.StageRefining:
			next, failure = p.refine(ctx)
		case research.StageBenchmarked:
			next, failure = p.report(ctx)
		default:
			return p.finish(research.StageFailed, &stage.Failure{
				Kind: stage.FailureFatal,
				Err:  fmt.Errorf("pipeline %s in unknown stage %q", p.id, p.stage),
			}, start)
		}

		if failure != nil {
			terminal := research.StageFailed
			if failure.Kind == stage.FailureCancelled {
				terminal = research.StageAbandoned
			}
			return p.finish(terminal, failure, start)
		}

		p.stage = next
		if err := p.checkpoint(); err != nil {
			return p.finish(research.StageFailed, &stage.Failure{
				Kind: stage.FailureFatal, Stage: research.KindReport, Err: err,
			}, start)
		}
	}

	return p.finish(p.stage, nil, start)
}

// evaluate scores the idea and prunes it when it falls below the threshold.
func (p *Pipeline) evaluate(ctx context.Context) (research.Stage, *stage.Failure) {
	p.logStage(log.EventStageStarted, research.KindEvaluation)

	score, justification, failure := p.deps.Stages.EvaluateIdea(ctx, p.id, p.st.Idea)
	if failure != nil {
		return "", failure
	}
	p.st.Idea.Score = score
	p.st.Idea.Justification = justification

	if score < p.deps.Config.Run.EvalThreshold {
		p.logEvent(log.LogEvent{
			Event:  log.EventIdeaAbandoned,
			IdeaID: p.st.Idea.ID,
			Title:  p.st.Idea.Title,
			Score:  score,
			Reason: fmt.Sprintf("score %.1f below threshold %.1f", score, p.deps.Config.Run.EvalThreshold),
		})
		return research.StageAbandoned, nil
	}

	p.logStage(log.EventStageCompleted, research.KindEvaluation)
	return research.StageEvaluated, nil
}

func (p *Pipeline) design(ctx context.Context) (research.Stage, *stage.Failure) {
	p.logStage(log.EventStageStarted, research.KindDesign)

	plan, failure := p.deps.Stages.DesignExperiment(ctx, p.id, p.st.Idea)
	if failure != nil {
		return "", failure
	}
	p.st.Experiment = &research.Experiment{
		ID:     uuid.New().String(),
		IdeaID: p.st.Idea.ID,
		Plan:   plan,
	}

	p.logStage(log.EventStageCompleted, research.KindDesign)
	return research.StageDesigned, nil
}

func (p *Pipeline) code(ctx context.Context) (research.Stage, *stage.Failure) {
	p.logStage(log.EventStageStarted, research.KindCoding)

	artifact, failure := p.deps.Stages.GenerateCode(ctx, p.id, p.st.Experiment.Plan)
	if failure != nil {
		return "", failure
	}
	p.st.Experiment.Code = artifact

	p.logStage(log.EventStageCompleted, research.KindCoding)
	return research.StageExecuting, nil
}

// execute runs the experiment and decides between success, refinement, and
// exhaustion of the refinement budget.
func (p *Pipeline) execute(ctx context.Context) (research.Stage, *stage.Failure) {
	p.logStage(log.EventStageStarted, research.KindExecution)

	exp := p.st.Experiment
	result, failure := p.deps.Stages.ExecuteExperiment(ctx, p.id, exp)
	if failure != nil {
		return "", failure
	}
	exp.History = append(exp.History, *result)

	if succeeded(exp.Plan, result) {
		p.st.Benchmark = benchmarkScores(p.st.Idea, exp)
		p.logEvent(log.LogEvent{
			Event:      log.EventStageCompleted,
			PipelineID: p.id,
			Stage:      string(research.KindBenchmark),
			Metrics:    p.st.Benchmark,
		})
		return research.StageBenchmarked, nil
	}

	if exp.Attempts >= p.deps.Config.Run.MaxRefinements {
		return "", &stage.Failure{
			Kind:  stage.FailureTransient,
			Stage: research.KindExecution,
			Err: fmt.Errorf("experiment %s still failing after %d refinements (last status %s, exit %d)",
				exp.ID, exp.Attempts, result.Status, result.ExitCode),
		}
	}
	return research.StageRefining, nil
}

// refine revises the plan from the last result and sends the pipeline back
// through coding.
func (p *Pipeline) refine(ctx context.Context) (research.Stage, *stage.Failure) {
	p.logStage(log.EventStageStarted, research.KindRefinement)

	exp := p.st.Experiment
	refined, failure := p.deps.Stages.RefinePlan(ctx, p.id, exp.Plan, exp.LastResult())
	if failure != nil {
		return "", failure
	}
	exp.Plan = refined
	exp.Code = nil
	exp.Attempts++

	p.logStage(log.EventStageCompleted, research.KindRefinement)
	return research.StageDesigned, nil
}

// report optionally runs augmentation, then writes the per-idea report.
func (p *Pipeline) report(ctx context.Context) (research.Stage, *stage.Failure) {
	if p.deps.Augmenter != nil && !p.st.Augmented {
		result, err := p.deps.Augmenter.Run(ctx, p.id, p.findings())
		if err != nil {
			return "", &stage.Failure{Kind: stage.FailureCancelled, Stage: research.KindAugmentation, Err: err}
		}
		p.st.Augmented = result.Applied
	}

	path, err := p.writeIdeaReport()
	if err != nil {
		return "", &stage.Failure{Kind: stage.FailureFatal, Stage: research.KindReport, Err: err}
	}
	p.logEvent(log.LogEvent{
		Event:      log.EventPipelineReported,
		IdeaID:     p.st.Idea.ID,
		Title:      p.st.Idea.Title,
		Score:      p.st.Idea.Score,
		Metrics:    p.st.Benchmark,
		Data:       map[string]interface{}{"report": path},
		PipelineID: p.id,
	})
	return research.StageReported, nil
}

// findings summarizes the successful run for the augmentation prompt.
func (p *Pipeline) findings() string {
	exp := p.st.Experiment
	last := exp.LastResult()
	return fmt.Sprintf("Idea %q (score %.1f) confirmed hypothesis %q after %d refinement(s). Metrics: %v. Benchmark: %v.",
		p.st.Idea.Title, p.st.Idea.Score, exp.Plan.Hypothesis, exp.Attempts, last.Metrics, p.st.Benchmark)
}

// finish records the terminal stage, cleans up, and builds the outcome.
func (p *Pipeline) finish(terminal research.Stage, failure *stage.Failure, start time.Time) *Outcome {
	p.stage = terminal
	if err := p.checkpoint(); err != nil {
		p.logEvent(log.LogEvent{Event: log.EventStageFailed, PipelineID: p.id, Error: err.Error()})
	}

	if failure != nil {
		p.logEvent(log.LogEvent{
			Event:      log.EventPipelineFailed,
			IdeaID:     p.st.Idea.ID,
			Title:      p.st.Idea.Title,
			Stage:      string(failure.Stage),
			Reason:     string(failure.Kind),
			Error:      failure.Error(),
			PipelineID: p.id,
		})
	}

	return &Outcome{
		PipelineID: p.id,
		Idea:       p.st.Idea,
		Stage:      terminal,
		Experiment: p.st.Experiment,
		Benchmark:  p.st.Benchmark,
		ReportPath: p.ideaReportPath(),
		Augmented:  p.st.Augmented,
		Failure:    failure,
		Duration:   time.Since(start),
	}
}

func (p *Pipeline) checkpoint() error {
	blob, err := json.Marshal(p.st)
	if err != nil {
		return fmt.Errorf("encode pipeline state: %w", err)
	}
	return p.deps.Store.Save(&store.Checkpoint{
		PipelineID: p.id,
		RunID:      p.runID,
		Stage:      p.stage,
		State:      blob,
	})
}

func (p *Pipeline) ideaReportPath() string {
	if p.deps.RunDir == "" || p.stage != research.StageReported {
		return ""
	}
	return filepath.Join(p.deps.RunDir, "ideas", p.st.Idea.ID+".md")
}

// writeIdeaReport renders the per-idea markdown report into the run dir.
func (p *Pipeline) writeIdeaReport() (string, error) {
	dir := filepath.Join(p.deps.RunDir, "ideas")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create idea report dir: %w", err)
	}
	path := filepath.Join(dir, p.st.Idea.ID+".md")
	if err := os.WriteFile(path, []byte(renderIdeaReport(p.st.Idea, p.st.Experiment, p.st.Benchmark)), 0644); err != nil {
		return "", fmt.Errorf("write idea report: %w", err)
	}
	return path, nil
}

func (p *Pipeline) logStage(event string, kind research.StageKind) {
	p.logEvent(log.LogEvent{
		Event:      event,
		PipelineID: p.id,
		IdeaID:     p.st.Idea.ID,
		Stage:      string(kind),
	})
}

func (p *Pipeline) logEvent(e log.LogEvent) {
	if p.deps.Logger == nil {
		return
	}
	e.RunID = p.runID
	if e.PipelineID == "" {
		e.PipelineID = p.id
	}
	_ = p.deps.Logger.Append(e)
}
