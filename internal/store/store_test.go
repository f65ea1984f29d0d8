package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/labcoat-dev/labcoat/internal/research"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)

	cp := &Checkpoint{
		PipelineID: "p-1",
		RunID:      "run-1",
		Stage:      research.StageEvaluated,
		State:      []byte(`{"idea":{"id":"i-1"}}`),
	}
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("p-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for existing checkpoint")
	}
	if got.Stage != research.StageEvaluated {
		t.Errorf("stage: got %s, want evaluated", got.Stage)
	}
	if string(got.State) != string(cp.State) {
		t.Errorf("state blob mismatch: %s", got.State)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at was not set")
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s := testStore(t)

	got, err := s.Load("nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing checkpoint, got %+v", got)
	}
}

func TestSaveOverwritesSingleRow(t *testing.T) {
	s := testStore(t)

	stages := []research.Stage{
		research.StageGenerated,
		research.StageEvaluated,
		research.StageDesigned,
		research.StageExecuting,
	}
	for _, stage := range stages {
		if err := s.Save(&Checkpoint{PipelineID: "p-1", RunID: "run-1", Stage: stage}); err != nil {
			t.Fatalf("Save(%s): %v", stage, err)
		}
	}

	got, err := s.Load("p-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Stage != research.StageExecuting {
		t.Errorf("stage after overwrites: got %s, want executing", got.Stage)
	}

	// At most one checkpoint per pipeline id.
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE pipeline_id = 'p-1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("checkpoint rows: got %d, want 1", count)
	}
}

func TestSaveRejectsInvalidStage(t *testing.T) {
	s := testStore(t)

	err := s.Save(&Checkpoint{PipelineID: "p-1", RunID: "run-1", Stage: research.Stage("bogus")})
	if err == nil {
		t.Error("expected error for invalid stage")
	}
}

func TestNonTerminal(t *testing.T) {
	s := testStore(t)

	saves := map[string]research.Stage{
		"p-running":   research.StageExecuting,
		"p-refining":  research.StageRefining,
		"p-done":      research.StageReported,
		"p-failed":    research.StageFailed,
		"p-abandoned": research.StageAbandoned,
	}
	for id, stage := range saves {
		if err := s.Save(&Checkpoint{PipelineID: id, RunID: "run-1", Stage: stage}); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	cps, err := s.NonTerminal()
	if err != nil {
		t.Fatalf("NonTerminal: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("got %d non-terminal checkpoints, want 2", len(cps))
	}
	for _, cp := range cps {
		if cp.Stage.Terminal() {
			t.Errorf("terminal checkpoint %s returned by NonTerminal", cp.PipelineID)
		}
	}
}

func TestConcurrentSavesSamePipeline(t *testing.T) {
	s := testStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := &Checkpoint{
				PipelineID: "p-1",
				RunID:      "run-1",
				Stage:      research.StageExecuting,
				State:      []byte(fmt.Sprintf(`{"attempt":%d}`, i)),
			}
			if err := s.Save(cp); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Load("p-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.Stage != research.StageExecuting {
		t.Errorf("unexpected checkpoint after concurrent saves: %+v", got)
	}
}

func TestRunSummaryRoundTrip(t *testing.T) {
	s := testStore(t)

	if got, err := s.LatestSummary(); err != nil || got != nil {
		t.Fatalf("LatestSummary on empty store: got %+v, err %v", got, err)
	}

	sum := &Summary{
		RunID:      "run-1",
		Total:      5,
		Reported:   3,
		Failed:     1,
		Abandoned:  1,
		ReportPath: ".labcoat/runs/20260823-120000/report.md",
	}
	if err := s.SaveSummary(sum); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	got, err := s.LatestSummary()
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got == nil || got.RunID != "run-1" || got.Reported != 3 {
		t.Errorf("unexpected summary: %+v", got)
	}
}
