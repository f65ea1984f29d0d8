// Package research defines the shared data model for the research pipeline:
// ideas, experiments, execution results, and the stage vocabulary used by
// checkpoints and the event log.
package research

import "time"

// StageKind tags a single unit of stage work. Used by the model gateway for
// telemetry and by the stage runner to select prompts and parsers.
type StageKind string

const (
	KindIdeation     StageKind = "ideation"
	KindEvaluation   StageKind = "evaluation"
	KindDesign       StageKind = "design"
	KindCoding       StageKind = "coding"
	KindExecution    StageKind = "execution"
	KindRefinement   StageKind = "refinement"
	KindAugmentation StageKind = "augmentation"
	KindBenchmark    StageKind = "benchmark"
	KindReport       StageKind = "report"
)

// Stage is a pipeline state. Checkpoints record the stage a pipeline is
// currently in, so on resume the pipeline picks up at the first stage it
// never completed.
type Stage string

const (
	StageGenerated   Stage = "generated"
	StageEvaluated   Stage = "evaluated"
	StageDesigned    Stage = "designed"
	StageExecuting   Stage = "executing"
	StageRefining    Stage = "refining"
	StageBenchmarked Stage = "benchmarked"
	StageReported    Stage = "reported"
	StageFailed      Stage = "failed"
	StageAbandoned   Stage = "abandoned"
)

// Terminal reports whether a pipeline in this stage has finished for good.
func (s Stage) Terminal() bool {
	return s == StageReported || s == StageFailed || s == StageAbandoned
}

// Valid reports whether s is one of the defined pipeline stages.
func (s Stage) Valid() bool {
	switch s {
	case StageGenerated, StageEvaluated, StageDesigned, StageExecuting,
		StageRefining, StageBenchmarked, StageReported, StageFailed, StageAbandoned:
		return true
	}
	return false
}

// Idea is a candidate research direction produced by the ideation stage.
// Immutable once evaluated; owned by a single pipeline.
type Idea struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Score         float64   `json:"score"`
	Justification string    `json:"justification,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PlanStep is one methodology step in an experiment plan. Every step must
// name an action; the remaining fields depend on the action.
type PlanStep struct {
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// Plan is the structured experiment design produced by the design stage and
// revised by refinement. The required keys mirror what the designer model is
// asked to produce; Targets carries optional metric thresholds the execution
// must meet to count as a success.
type Plan struct {
	Hypothesis     string             `json:"hypothesis"`
	Variables      map[string]string  `json:"variables"`
	Methodology    []PlanStep         `json:"methodology"`
	DataCollection string             `json:"data_collection"`
	AnalysisPlan   string             `json:"analysis_plan"`
	Targets        map[string]float64 `json:"targets,omitempty"`
}

// CodeArtifact is the runnable program generated for an experiment plan.
type CodeArtifact struct {
	Source       string   `json:"source"`
	Requirements []string `json:"requirements,omitempty"`
}

// Experiment is a concrete executable instantiation of an idea. Created by
// the design stage, mutated by refinement, archived when the pipeline
// reaches a terminal state.
type Experiment struct {
	ID       string            `json:"id"`
	IdeaID   string            `json:"idea_id"`
	Plan     *Plan             `json:"plan"`
	Code     *CodeArtifact     `json:"code,omitempty"`
	Attempts int               `json:"attempts"`
	History  []ExecutionResult `json:"history,omitempty"`
}

// LastResult returns the most recent execution result, or nil if the
// experiment has never run. Insertion order of History is meaningful: the
// latest attempt informs refinement.
func (e *Experiment) LastResult() *ExecutionResult {
	if len(e.History) == 0 {
		return nil
	}
	return &e.History[len(e.History)-1]
}

// ExecStatus classifies an execution attempt. Timeouts and resource
// violations are outcomes, not errors: they feed the refinement loop.
type ExecStatus string

const (
	StatusOK               ExecStatus = "ok"
	StatusError            ExecStatus = "error"
	StatusTimeout          ExecStatus = "timeout"
	StatusResourceExceeded ExecStatus = "resource_exceeded"
	StatusRejected         ExecStatus = "rejected"
	StatusCancelled        ExecStatus = "cancelled"
)

// ExecutionResult captures one sandbox run of an experiment. Immutable once
// produced; appended to the experiment's history.
type ExecutionResult struct {
	ExperimentID string             `json:"experiment_id"`
	Status       ExecStatus         `json:"status"`
	ExitCode     int                `json:"exit_code"`
	Stdout       string             `json:"stdout"`
	Stderr       string             `json:"stderr"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// ChangeProposal is a candidate modification to the system's own code,
// produced by the augmentation stage. It is never applied directly: the
// CheckCode must pass sandbox validation first.
type ChangeProposal struct {
	Summary   string         `json:"summary"`
	Files     []ProposedFile `json:"files"`
	CheckCode string         `json:"check_code"`
}

// ProposedFile is one file in a change proposal.
type ProposedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
