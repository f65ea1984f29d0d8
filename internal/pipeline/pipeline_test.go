package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/labcoat-dev/labcoat/internal/augment"
	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/internal/stage"
	"github.com/labcoat-dev/labcoat/internal/store"
)

// fakeStages scripts every stage the pipeline calls and counts calls.
type fakeStages struct {
	evaluateCalls int
	designCalls   int
	codeCalls     int
	executeCalls  int
	refineCalls   int

	score        float64
	scoreFailure *stage.Failure
	execute      func(call int, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure)
}

func (f *fakeStages) EvaluateIdea(ctx context.Context, pipelineID string, idea research.Idea) (float64, string, *stage.Failure) {
	f.evaluateCalls++
	if f.scoreFailure != nil {
		return 0, "", f.scoreFailure
	}
	return f.score, "reasonable", nil
}

func (f *fakeStages) DesignExperiment(ctx context.Context, pipelineID string, idea research.Idea) (*research.Plan, *stage.Failure) {
	f.designCalls++
	return &research.Plan{
		Hypothesis:     "h",
		Methodology:    []research.PlanStep{{Action: "run_python_code"}},
		DataCollection: "metrics",
		AnalysisPlan:   "compare",
		Targets:        map[string]float64{"accuracy": 0.8},
	}, nil
}

func (f *fakeStages) GenerateCode(ctx context.Context, pipelineID string, plan *research.Plan) (*research.CodeArtifact, *stage.Failure) {
	f.codeCalls++
	return &research.CodeArtifact{Source: "print('METRIC accuracy=0.9')"}, nil
}

func (f *fakeStages) ExecuteExperiment(ctx context.Context, pipelineID string, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure) {
	f.executeCalls++
	if f.execute != nil {
		return f.execute(f.executeCalls, exp)
	}
	return &research.ExecutionResult{
		ExperimentID: exp.ID,
		Status:       research.StatusOK,
		Metrics:      map[string]float64{"accuracy": 0.9},
	}, nil
}

func (f *fakeStages) RefinePlan(ctx context.Context, pipelineID string, plan *research.Plan, result *research.ExecutionResult) (*research.Plan, *stage.Failure) {
	f.refineCalls++
	refined := *plan
	refined.Hypothesis = plan.Hypothesis + " (refined)"
	return &refined, nil
}

type fakeAugmenter struct {
	calls   int
	applied bool
}

func (f *fakeAugmenter) Run(ctx context.Context, pipelineID, findings string) (*augment.Result, error) {
	f.calls++
	return &augment.Result{Applied: f.applied, Summary: "s"}, nil
}

func testDeps(t *testing.T, stages Stages) (Deps, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Run.MaxRefinements = 2
	return Deps{
		Stages: stages,
		Store:  st,
		Config: cfg,
		RunDir: filepath.Join(dir, "run"),
	}, st
}

func testIdea() research.Idea {
	return research.Idea{ID: "idea-1", Title: "Cache evaluations", Description: "Cache evaluation results"}
}

func TestRunHappyPath(t *testing.T) {
	stages := &fakeStages{score: 8}
	deps, st := testDeps(t, stages)

	p := New("run-1", testIdea(), deps)
	outcome := p.Run(context.Background())

	if outcome.Stage != research.StageReported {
		t.Fatalf("stage: got %s, want reported (failure: %v)", outcome.Stage, outcome.Failure)
	}
	if outcome.Idea.Score != 8 {
		t.Errorf("score not recorded: %v", outcome.Idea.Score)
	}
	if stages.refineCalls != 0 {
		t.Errorf("unexpected refinement calls: %d", stages.refineCalls)
	}
	if outcome.Benchmark["idea_quality"] != 0.8 {
		t.Errorf("idea_quality: %v", outcome.Benchmark["idea_quality"])
	}
	if _, err := os.Stat(outcome.ReportPath); err != nil {
		t.Errorf("idea report not written: %v", err)
	}

	cp, err := st.Load(p.ID())
	if err != nil || cp == nil {
		t.Fatalf("terminal checkpoint missing: %v", err)
	}
	if cp.Stage != research.StageReported {
		t.Errorf("checkpoint stage: %s", cp.Stage)
	}
}

func TestRunPrunesLowScore(t *testing.T) {
	stages := &fakeStages{score: 3}
	deps, _ := testDeps(t, stages)

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageAbandoned {
		t.Fatalf("stage: got %s, want abandoned", outcome.Stage)
	}
	if outcome.Failure != nil {
		t.Errorf("pruning is not a failure: %v", outcome.Failure)
	}
	if stages.designCalls != 0 {
		t.Error("pruned idea reached the design stage")
	}
}

func TestRunRefinesThenSucceeds(t *testing.T) {
	stages := &fakeStages{score: 8}
	stages.execute = func(call int, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure) {
		if call == 1 {
			return &research.ExecutionResult{Status: research.StatusError, ExitCode: 1, Stderr: "bug"}, nil
		}
		return &research.ExecutionResult{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.9}}, nil
	}
	deps, _ := testDeps(t, stages)

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageReported {
		t.Fatalf("stage: got %s (failure: %v)", outcome.Stage, outcome.Failure)
	}
	if stages.refineCalls != 1 {
		t.Errorf("refine calls: got %d, want 1", stages.refineCalls)
	}
	if stages.codeCalls != 2 {
		t.Errorf("code regenerated %d times, want 2", stages.codeCalls)
	}
	if outcome.Experiment.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", outcome.Experiment.Attempts)
	}
}

func TestRunUnmetTargetsTriggerRefinement(t *testing.T) {
	stages := &fakeStages{score: 8}
	stages.execute = func(call int, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure) {
		if call == 1 {
			// Clean exit, but accuracy below the plan's 0.8 target.
			return &research.ExecutionResult{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.5}}, nil
		}
		return &research.ExecutionResult{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.9}}, nil
	}
	deps, _ := testDeps(t, stages)

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageReported {
		t.Fatalf("stage: got %s (failure: %v)", outcome.Stage, outcome.Failure)
	}
	if stages.refineCalls != 1 {
		t.Errorf("weak metrics should refine once: got %d", stages.refineCalls)
	}
}

func TestRunFailsAfterRefinementBudget(t *testing.T) {
	stages := &fakeStages{score: 8}
	stages.execute = func(call int, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure) {
		return &research.ExecutionResult{Status: research.StatusError, ExitCode: 1, Stderr: "persistent bug"}, nil
	}
	deps, _ := testDeps(t, stages)

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageFailed {
		t.Fatalf("stage: got %s, want failed", outcome.Stage)
	}
	// MaxRefinements=2: initial run + 2 refined runs.
	if stages.executeCalls != 3 {
		t.Errorf("execute calls: got %d, want 3", stages.executeCalls)
	}
	last := outcome.Experiment.LastResult()
	if last == nil || last.Stderr != "persistent bug" {
		t.Error("last execution result not retained on failure")
	}
}

func TestRunCancellationAbandons(t *testing.T) {
	stages := &fakeStages{score: 8}
	stages.execute = func(call int, exp *research.Experiment) (*research.ExecutionResult, *stage.Failure) {
		return nil, &stage.Failure{Kind: stage.FailureCancelled, Stage: research.KindExecution, Err: context.Canceled}
	}
	deps, _ := testDeps(t, stages)

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageAbandoned {
		t.Fatalf("stage: got %s, want abandoned", outcome.Stage)
	}
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	stages := &fakeStages{score: 8}
	deps, st := testDeps(t, stages)

	exp := &research.Experiment{
		ID:     "exp-1",
		IdeaID: "idea-1",
		Plan: &research.Plan{
			Hypothesis:     "h",
			Methodology:    []research.PlanStep{{Action: "run_python_code"}},
			DataCollection: "d",
			AnalysisPlan:   "a",
		},
	}
	idea := testIdea()
	idea.Score = 8
	blob, err := json.Marshal(state{Idea: idea, Experiment: exp})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(&store.Checkpoint{
		PipelineID: "p-resume",
		RunID:      "run-1",
		Stage:      research.StageDesigned,
		State:      blob,
	}); err != nil {
		t.Fatal(err)
	}

	cp, err := st.Load("p-resume")
	if err != nil {
		t.Fatal(err)
	}
	p, err := Resume(cp, deps)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	outcome := p.Run(context.Background())
	if outcome.Stage != research.StageReported {
		t.Fatalf("stage: got %s (failure: %v)", outcome.Stage, outcome.Failure)
	}
	if stages.evaluateCalls != 0 || stages.designCalls != 0 {
		t.Errorf("completed stages re-ran: evaluate=%d design=%d", stages.evaluateCalls, stages.designCalls)
	}
	if stages.codeCalls != 1 || stages.executeCalls != 1 {
		t.Errorf("remaining stages: code=%d execute=%d", stages.codeCalls, stages.executeCalls)
	}
}

func TestAugmentationDiscardStillReports(t *testing.T) {
	stages := &fakeStages{score: 8}
	deps, _ := testDeps(t, stages)
	aug := &fakeAugmenter{applied: false}
	deps.Augmenter = aug

	outcome := New("run-1", testIdea(), deps).Run(context.Background())
	if outcome.Stage != research.StageReported {
		t.Fatalf("discarded augmentation must not block reporting: %s", outcome.Stage)
	}
	if aug.calls != 1 {
		t.Errorf("augmenter calls: %d", aug.calls)
	}
	if outcome.Augmented {
		t.Error("outcome marked augmented despite discard")
	}
}

func TestBenchmarkScores(t *testing.T) {
	idea := research.Idea{Score: 7}
	exp := &research.Experiment{
		Plan: &research.Plan{Methodology: []research.PlanStep{
			{Action: "a"}, {Action: "b"}, {Action: "c"},
		}},
		Attempts: 1,
		History: []research.ExecutionResult{
			{Status: research.StatusError, ExitCode: 1},
			{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.9}},
		},
	}

	scores := benchmarkScores(idea, exp)
	if scores["idea_quality"] != 0.7 {
		t.Errorf("idea_quality: %v", scores["idea_quality"])
	}
	if scores["experiment_design_quality"] != 0.6 {
		t.Errorf("experiment_design_quality: %v", scores["experiment_design_quality"])
	}
	if scores["execution_efficiency"] != 0.5 {
		t.Errorf("execution_efficiency: %v", scores["execution_efficiency"])
	}
	if scores["system_reliability"] != 0.5 {
		t.Errorf("system_reliability: %v", scores["system_reliability"])
	}
	if scores["accuracy"] != 0.9 {
		t.Errorf("experiment metric not merged: %v", scores["accuracy"])
	}
}

func TestSucceededChecksTargets(t *testing.T) {
	plan := &research.Plan{Targets: map[string]float64{"accuracy": 0.8}}

	tests := []struct {
		name   string
		result research.ExecutionResult
		want   bool
	}{
		{"met", research.ExecutionResult{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.85}}, true},
		{"unmet", research.ExecutionResult{Status: research.StatusOK, Metrics: map[string]float64{"accuracy": 0.5}}, false},
		{"missing metric", research.ExecutionResult{Status: research.StatusOK}, false},
		{"nonzero exit", research.ExecutionResult{Status: research.StatusError, ExitCode: 1, Metrics: map[string]float64{"accuracy": 0.9}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := succeeded(plan, &tt.result); got != tt.want {
				t.Errorf("succeeded: got %v, want %v", got, tt.want)
			}
		})
	}
}
