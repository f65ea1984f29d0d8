package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labcoat-dev/labcoat/internal/research"
)

// succeeded reports whether an execution run counts as a success: a clean
// exit and every target metric in the plan met by the run's reported values.
func succeeded(plan *research.Plan, result *research.ExecutionResult) bool {
	if result.Status != research.StatusOK || result.ExitCode != 0 {
		return false
	}
	for name, want := range plan.Targets {
		got, ok := result.Metrics[name]
		if !ok || got < want {
			return false
		}
	}
	return true
}

// benchmarkScores computes the deterministic cross-idea benchmark for a
// successful experiment, normalized to [0, 1]:
//
//	idea_quality              evaluation score scaled from its 1-10 range
//	experiment_design_quality methodology depth, saturating at five steps
//	execution_efficiency      inverse of the refinement attempts consumed
//	system_reliability        fraction of execution attempts that ran clean
//
// The experiment's own reported metrics are merged in alongside.
func benchmarkScores(idea research.Idea, exp *research.Experiment) map[string]float64 {
	scores := map[string]float64{
		"idea_quality":              idea.Score / 10,
		"experiment_design_quality": designQuality(exp.Plan),
		"execution_efficiency":      1 / float64(1+exp.Attempts),
		"system_reliability":        reliability(exp.History),
	}
	if last := exp.LastResult(); last != nil {
		for name, value := range last.Metrics {
			scores[name] = value
		}
	}
	return scores
}

func designQuality(plan *research.Plan) float64 {
	steps := len(plan.Methodology)
	if steps > 5 {
		steps = 5
	}
	return float64(steps) / 5
}

func reliability(history []research.ExecutionResult) float64 {
	if len(history) == 0 {
		return 0
	}
	ok := 0
	for _, r := range history {
		if r.Status == research.StatusOK && r.ExitCode == 0 {
			ok++
		}
	}
	return float64(ok) / float64(len(history))
}

// renderIdeaReport builds the per-idea markdown report.
func renderIdeaReport(idea research.Idea, exp *research.Experiment, benchmark map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", idea.Title)
	fmt.Fprintf(&b, "%s\n\n", idea.Description)
	fmt.Fprintf(&b, "- Evaluation score: %.1f\n", idea.Score)
	if idea.Justification != "" {
		fmt.Fprintf(&b, "- Justification: %s\n", idea.Justification)
	}

	if exp != nil && exp.Plan != nil {
		fmt.Fprintf(&b, "\n## Experiment\n\n")
		fmt.Fprintf(&b, "- Hypothesis: %s\n", exp.Plan.Hypothesis)
		fmt.Fprintf(&b, "- Refinements: %d\n", exp.Attempts)
		fmt.Fprintf(&b, "- Execution attempts: %d\n", len(exp.History))
		if last := exp.LastResult(); last != nil {
			fmt.Fprintf(&b, "- Final status: %s (exit %d, %s)\n", last.Status, last.ExitCode, last.Duration.Round(time.Millisecond))
		}
	}

	if len(benchmark) > 0 {
		fmt.Fprintf(&b, "\n## Benchmark\n\n")
		names := make([]string, 0, len(benchmark))
		for name := range benchmark {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %.3f\n", name, benchmark[name])
		}
	}

	return b.String()
}
