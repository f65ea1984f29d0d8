// Package stage executes single pipeline stages against the model gateway
// and the sandbox, owning retry policy and the parse boundary. Transient
// errors never escape this package: callers see either a typed output or a
// Failure.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/model"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/internal/sandbox"
)

// Generator issues one LLM request. Satisfied by *model.Gateway.
type Generator interface {
	Generate(ctx context.Context, req model.Request) (string, error)
}

// Executor runs one experiment program. Satisfied by *sandbox.Sandbox.
type Executor interface {
	Run(ctx context.Context, req sandbox.Request) (*research.ExecutionResult, error)
}

// Runner executes pipeline stages. Safe for concurrent use by multiple
// pipelines.
type Runner struct {
	gen     Generator
	exec    Executor
	cfg     *config.Config
	logger  *log.Logger
	backoff Backoff
}

// NewRunner builds a Runner from the shared gateway and sandbox.
func NewRunner(gen Generator, exec Executor, cfg *config.Config, logger *log.Logger) *Runner {
	return &Runner{
		gen:    gen,
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		backoff: Backoff{
			Base: time.Duration(cfg.Run.BackoffBaseMS) * time.Millisecond,
			Max:  time.Duration(cfg.Run.BackoffMaxMS) * time.Millisecond,
		},
	}
}

// runModelStage is the shared retry loop for every pure-model stage: call
// the gateway, parse, and retry transient backend errors and parse failures
// with exponential backoff up to the configured bound. parse assigns into
// variables captured by the caller.
func (r *Runner) runModelStage(
	ctx context.Context,
	pipelineID string,
	kind research.StageKind,
	system, prompt string,
	params model.Params,
	parse func(text string) error,
) *Failure {
	limit := r.cfg.Run.RetryLimit
	if limit < 0 {
		limit = 0
	}

	var lastErr error
	lastWasParse := false

	for attempt := 0; attempt <= limit; attempt++ {
		if attempt > 0 {
			r.logRetry(pipelineID, kind, attempt, lastErr)
			if err := sleep(ctx, r.backoff.Delay(attempt-1)); err != nil {
				return &Failure{Kind: FailureCancelled, Stage: kind, Err: err}
			}
		}

		text, err := r.gen.Generate(ctx, model.Request{
			Prompt: prompt,
			System: system,
			Stage:  kind,
			Params: params,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return &Failure{Kind: FailureCancelled, Stage: kind, Err: err}
			}
			if model.IsFatal(err) {
				return &Failure{Kind: FailureFatal, Stage: kind, Err: err}
			}
			lastErr = err
			lastWasParse = false
			continue
		}

		if err := parse(text); err != nil {
			lastErr = err
			lastWasParse = true
			continue
		}

		return nil
	}

	kindOut := FailureTransient
	if lastWasParse {
		kindOut = FailureMalformed
	}
	return &Failure{Kind: kindOut, Stage: kind, Err: lastErr}
}

// GenerateIdeas runs the ideation stage, producing n candidate ideas.
func (r *Runner) GenerateIdeas(ctx context.Context, n int) ([]research.Idea, *Failure) {
	var ideas []research.Idea
	failure := r.runModelStage(ctx, "", research.KindIdeation,
		researchAssistantSystem, ideationPrompt(n), model.Params{},
		func(text string) error {
			parsed, err := ParseIdeas(text)
			if err != nil {
				return err
			}
			ideas = parsed
			return nil
		})
	if failure != nil {
		return nil, failure
	}
	if len(ideas) > n {
		ideas = ideas[:n]
	}
	return ideas, nil
}

// EvaluateIdea runs the evaluation stage, returning the idea's score and
// justification. Lower temperature than the creative stages: the evaluator
// is asked to judge, not invent.
func (r *Runner) EvaluateIdea(ctx context.Context, pipelineID string, idea research.Idea) (float64, string, *Failure) {
	var score float64
	var justification string
	failure := r.runModelStage(ctx, pipelineID, research.KindEvaluation,
		researchAssistantSystem, evaluationPrompt(idea), model.Params{Temperature: 0.5},
		func(text string) error {
			s, j, err := ParseScore(text)
			if err != nil {
				return err
			}
			score, justification = s, j
			return nil
		})
	if failure != nil {
		return 0, "", failure
	}
	return score, justification, nil
}

// DesignExperiment runs the design stage, producing an experiment plan.
func (r *Runner) DesignExperiment(ctx context.Context, pipelineID string, idea research.Idea) (*research.Plan, *Failure) {
	var plan *research.Plan
	failure := r.runModelStage(ctx, pipelineID, research.KindDesign,
		researchAssistantSystem, designPrompt(idea), model.Params{},
		func(text string) error {
			p, err := ParsePlan(text)
			if err != nil {
				return err
			}
			plan = p
			return nil
		})
	if failure != nil {
		return nil, failure
	}
	return plan, nil
}

// GenerateCode runs the coding stage, turning a plan into a runnable
// program.
func (r *Runner) GenerateCode(ctx context.Context, pipelineID string, plan *research.Plan) (*research.CodeArtifact, *Failure) {
	var artifact *research.CodeArtifact
	failure := r.runModelStage(ctx, pipelineID, research.KindCoding,
		experimentCoderSystem, codingPrompt(plan), model.Params{},
		func(text string) error {
			a, err := ParseCode(text)
			if err != nil {
				return err
			}
			artifact = a
			return nil
		})
	if failure != nil {
		return nil, failure
	}
	return artifact, nil
}

// ExecuteExperiment runs the experiment code in the sandbox. Timeouts are
// retried up to the configured bound; a result that is still not OK after
// retries is returned as an outcome for the refinement loop, not a Failure.
// Only cancellation and sandbox infrastructure errors fail the stage.
func (r *Runner) ExecuteExperiment(ctx context.Context, pipelineID string, exp *research.Experiment) (*research.ExecutionResult, *Failure) {
	limit := r.cfg.Run.RetryLimit
	if limit < 0 {
		limit = 0
	}

	req := sandbox.Request{
		ExperimentID:  exp.ID,
		Code:          exp.Code.Source,
		Timeout:       time.Duration(r.cfg.Sandbox.TimeoutSecs) * time.Second,
		MemoryLimitMB: r.cfg.Sandbox.MemoryLimitMB,
	}

	var result *research.ExecutionResult
	for attempt := 0; attempt <= limit; attempt++ {
		if attempt > 0 {
			r.logRetry(pipelineID, research.KindExecution, attempt, nil)
			if err := sleep(ctx, r.backoff.Delay(attempt-1)); err != nil {
				return nil, &Failure{Kind: FailureCancelled, Stage: research.KindExecution, Err: err}
			}
		}

		res, err := r.exec.Run(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Failure{Kind: FailureCancelled, Stage: research.KindExecution, Err: err}
			}
			// Sandbox infrastructure errors are retryable.
			result = nil
			continue
		}
		result = res

		switch res.Status {
		case research.StatusCancelled:
			return nil, &Failure{Kind: FailureCancelled, Stage: research.KindExecution, Err: ctx.Err()}
		case research.StatusTimeout:
			// Retry; if the budget runs out the timeout result is the outcome.
			continue
		default:
			return res, nil
		}
	}

	if result == nil {
		return nil, &Failure{Kind: FailureTransient, Stage: research.KindExecution}
	}
	return result, nil
}

// RefinePlan runs the refinement stage, revising a plan in light of the
// latest execution result.
func (r *Runner) RefinePlan(ctx context.Context, pipelineID string, plan *research.Plan, result *research.ExecutionResult) (*research.Plan, *Failure) {
	var refined *research.Plan
	failure := r.runModelStage(ctx, pipelineID, research.KindRefinement,
		researchAssistantSystem, refinementPrompt(plan, result), model.Params{},
		func(text string) error {
			p, err := ParseRefinedPlan(text)
			if err != nil {
				return err
			}
			refined = p
			return nil
		})
	if failure != nil {
		return nil, failure
	}
	return refined, nil
}

// ProposeChange runs the augmentation stage, producing a candidate change
// to the system's own code. The proposal is not applied here; the augment
// package validates and commits it.
func (r *Runner) ProposeChange(ctx context.Context, pipelineID string, findings string, events []log.LogEvent) (*research.ChangeProposal, *Failure) {
	var proposal *research.ChangeProposal
	failure := r.runModelStage(ctx, pipelineID, research.KindAugmentation,
		systemOptimizerSystem, augmentationPrompt(findings, events), model.Params{},
		func(text string) error {
			p, err := ParseProposal(text)
			if err != nil {
				return err
			}
			proposal = p
			return nil
		})
	if failure != nil {
		return nil, failure
	}
	return proposal, nil
}

// ValidateChange runs a proposal's check code in the sandbox and reports
// whether it passed.
func (r *Runner) ValidateChange(ctx context.Context, proposal *research.ChangeProposal) (bool, *Failure) {
	res, err := r.exec.Run(ctx, sandbox.Request{
		Code:    proposal.CheckCode,
		Timeout: time.Duration(r.cfg.Sandbox.TimeoutSecs) * time.Second,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, &Failure{Kind: FailureCancelled, Stage: research.KindAugmentation, Err: err}
		}
		return false, &Failure{Kind: FailureTransient, Stage: research.KindAugmentation, Err: err}
	}
	if res.Status == research.StatusCancelled {
		return false, &Failure{Kind: FailureCancelled, Stage: research.KindAugmentation, Err: ctx.Err()}
	}
	return res.Status == research.StatusOK && res.ExitCode == 0, nil
}

// logRetry records a stage_retry event. Nil loggers are tolerated so tests
// can run without one.
func (r *Runner) logRetry(pipelineID string, kind research.StageKind, attempt int, cause error) {
	if r.logger == nil {
		return
	}
	e := log.LogEvent{
		Event:      log.EventStageRetry,
		PipelineID: pipelineID,
		Stage:      string(kind),
		Attempt:    attempt,
	}
	if cause != nil {
		e.Reason = cause.Error()
	}
	_ = r.logger.Append(e)
}
