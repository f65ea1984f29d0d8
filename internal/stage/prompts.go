// prompts.go builds the per-stage prompts sent to the model gateway.
package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/prompts"
)

// System prompts are embedded markdown files so they can be tuned without
// touching code.
var (
	researchAssistantSystem = prompts.ResearcherSystemPrompt
	experimentCoderSystem   = prompts.CoderSystemPrompt
	systemOptimizerSystem   = prompts.OptimizerSystemPrompt
)

func ideationPrompt(n int) string {
	return fmt.Sprintf(
		"Generate a list of %d innovative research ideas focused on improving an automated AI research system in areas such as:\n"+
			"1. Quality of idea generation\n"+
			"2. Effectiveness of idea evaluation\n"+
			"3. Quality of experiment designs\n"+
			"4. Efficiency and accuracy of experiment executions\n"+
			"5. System reliability and performance\n"+
			"Each idea should be one concise line, clear, and directly related to improving one or more of these aspects.\n"+
			"Respond with one idea per line and nothing else.", n)
}

func evaluationPrompt(idea research.Idea) string {
	return fmt.Sprintf(
		"Evaluate the following research idea based on novelty and probability of success on a scale "+
			"from 1 to 10 (10 being highest). Respond with a line of the form \"Score: N\" followed by "+
			"a brief justification.\n\nIdea: %s", idea.Description)
}

func designPrompt(idea research.Idea) string {
	return fmt.Sprintf(
		"Design a detailed experiment plan to test the following idea:\n\n%s\n\n"+
			"Respond with a JSON object with these keys:\n"+
			"  hypothesis: what the experiment tests\n"+
			"  variables: object mapping variable names to descriptions\n"+
			"  methodology: array of steps, each an object with an \"action\" and optional \"detail\"\n"+
			"  data_collection: how outcomes are captured\n"+
			"  analysis_plan: how results are interpreted\n"+
			"  targets: optional object mapping metric names to minimum values the run must reach",
		idea.Description)
}

func codingPrompt(plan *research.Plan) string {
	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	return fmt.Sprintf(
		"Based on the following experiment plan, write a Python program that executes the experiment:\n\n%s\n\n"+
			"Guidelines:\n"+
			"1. Implement each methodology step as a separate function and orchestrate them from main().\n"+
			"2. Report every measured metric by printing a line of the form \"METRIC name=value\".\n"+
			"3. Exit with status 0 only if the experiment ran to completion.\n"+
			"4. Use only the standard library plus the listed requirements.\n"+
			"Respond with a JSON object: {\"code\": \"<complete program>\", \"requirements\": [\"lib\", ...]}.",
		planJSON)
}

func refinementPrompt(plan *research.Plan, result *research.ExecutionResult) string {
	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	return fmt.Sprintf(
		"An experiment run of the plan below did not meet its goals.\n\nPlan:\n%s\n\n"+
			"Run status: %s (exit code %d)\nStdout:\n%s\nStderr:\n%s\nMetrics: %v\n\n"+
			"Refine the experiment plan based on these results. Respond with a JSON object of the form "+
			"{\"refined_plan\": {...}} where the refined plan has the same shape as the original.",
		planJSON, result.Status, result.ExitCode,
		truncate(result.Stdout, 2000), truncate(result.Stderr, 2000), result.Metrics)
}

func augmentationPrompt(findings string, events []log.LogEvent) string {
	var history strings.Builder
	for _, e := range events {
		fmt.Fprintf(&history, "%s %s stage=%s error=%s\n", e.Time.Format("15:04:05"), e.Event, e.Stage, e.Error)
	}
	return fmt.Sprintf(
		"Based on the following experiment findings:\n\n%s\n\n"+
			"And this recent run history:\n%s\n"+
			"Identify one specific improvement to the research system's own code. Respond with a JSON object:\n"+
			"{\"summary\": \"...\", \"files\": [{\"path\": \"relative/path\", \"content\": \"full new file content\"}], "+
			"\"check_code\": \"<a standalone program that exits 0 only if the change is sound>\"}",
		findings, history.String())
}

// truncate limits s to n bytes for prompt embedding.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
