// parse.go is the strict parse boundary between raw model text and typed
// stage outputs. All downstream logic operates on the parsed shapes; raw
// text never leaves this file.
package stage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcoat-dev/labcoat/internal/research"
)

// bulletPrefix strips list markers like "- ", "* ", "3. " or "3) ".
var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+`)

// scoreNumber matches the first integer or decimal in a score line.
var scoreNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseIdeas extracts one idea per non-empty line, stripping list markers.
// Lines that end with a colon are treated as preamble and skipped.
func ParseIdeas(text string) ([]research.Idea, error) {
	now := time.Now().UTC()
	var ideas []research.Idea
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		ideas = append(ideas, research.Idea{
			ID:          uuid.New().String(),
			Title:       ideaTitle(line),
			Description: line,
			CreatedAt:   now,
		})
	}
	if len(ideas) == 0 {
		return nil, fmt.Errorf("no ideas found in model output")
	}
	return ideas, nil
}

// ideaTitle derives a short title from an idea description: the first
// sentence, truncated to 72 characters.
func ideaTitle(description string) string {
	title := description
	if i := strings.IndexAny(title, ".;"); i > 0 {
		title = title[:i]
	}
	if len(title) > 72 {
		title = strings.TrimSpace(title[:72])
	}
	return title
}

// ParseScore extracts an evaluation score (1-10) and its justification.
// The evaluator is asked to emit a "Score: N" line; everything else is the
// justification.
func ParseScore(text string) (float64, string, error) {
	var scoreLine string
	var rest []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if scoreLine == "" && strings.Contains(strings.ToLower(trimmed), "score") {
			scoreLine = trimmed
			continue
		}
		if trimmed != "" {
			rest = append(rest, trimmed)
		}
	}
	if scoreLine == "" {
		return 0, "", fmt.Errorf("no score line in evaluation output")
	}

	match := scoreNumber.FindString(scoreLine)
	if match == "" {
		return 0, "", fmt.Errorf("score line %q contains no number", scoreLine)
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parsing score %q: %w", match, err)
	}
	if score < 1 || score > 10 {
		return 0, "", fmt.Errorf("score %v outside the 1-10 scale", score)
	}

	return score, strings.Join(rest, "\n"), nil
}

// ParsePlan parses an experiment plan from model output. The plan must
// carry a hypothesis, a non-empty methodology where every step names an
// action, a data collection description, and an analysis plan.
func ParsePlan(text string) (*research.Plan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var plan research.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}

	return validatePlan(&plan)
}

// ParseRefinedPlan parses the refinement stage output. The refiner is asked
// to wrap the revision in {"refined_plan": ...}; a bare plan object is also
// accepted.
func ParseRefinedPlan(text string) (*research.Plan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		RefinedPlan *research.Plan `json:"refined_plan"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.RefinedPlan != nil {
		return validatePlan(wrapped.RefinedPlan)
	}

	var plan research.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decoding refined plan: %w", err)
	}
	return validatePlan(&plan)
}

func validatePlan(plan *research.Plan) (*research.Plan, error) {
	if strings.TrimSpace(plan.Hypothesis) == "" {
		return nil, fmt.Errorf("plan is missing a hypothesis")
	}
	if len(plan.Methodology) == 0 {
		return nil, fmt.Errorf("plan has an empty methodology")
	}
	for i, step := range plan.Methodology {
		if strings.TrimSpace(step.Action) == "" {
			return nil, fmt.Errorf("methodology step %d has no action", i+1)
		}
	}
	if strings.TrimSpace(plan.DataCollection) == "" {
		return nil, fmt.Errorf("plan is missing data_collection")
	}
	if strings.TrimSpace(plan.AnalysisPlan) == "" {
		return nil, fmt.Errorf("plan is missing analysis_plan")
	}
	return plan, nil
}

// ParseCode parses the coding stage output: preferably the JSON envelope
// {"code": ..., "requirements": [...]}, otherwise a fenced code block.
func ParseCode(text string) (*research.CodeArtifact, error) {
	if raw, err := extractJSON(text); err == nil {
		var artifact research.CodeArtifact
		envelope := struct {
			Code         string   `json:"code"`
			Requirements []string `json:"requirements"`
		}{}
		if err := json.Unmarshal([]byte(raw), &envelope); err == nil && strings.TrimSpace(envelope.Code) != "" {
			artifact.Source = envelope.Code
			artifact.Requirements = envelope.Requirements
			return &artifact, nil
		}
	}

	if code := extractFencedBlock(text); code != "" {
		return &research.CodeArtifact{Source: code}, nil
	}

	return nil, fmt.Errorf("no code found in model output")
}

// ParseProposal parses a self-augmentation change proposal. Every file path
// must stay inside the project root and the proposal must carry validation
// check code.
func ParseProposal(text string) (*research.ChangeProposal, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var proposal research.ChangeProposal
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		return nil, fmt.Errorf("decoding proposal: %w", err)
	}

	if len(proposal.Files) == 0 {
		return nil, fmt.Errorf("proposal contains no files")
	}
	if strings.TrimSpace(proposal.CheckCode) == "" {
		return nil, fmt.Errorf("proposal has no validation check")
	}
	for _, f := range proposal.Files {
		if f.Path == "" || filepath.IsAbs(f.Path) || strings.Contains(f.Path, "..") {
			return nil, fmt.Errorf("proposal file path %q escapes the project root", f.Path)
		}
	}

	return &proposal, nil
}

// extractJSON returns the first top-level JSON object in text, tolerating
// surrounding prose and markdown code fences.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return text[start : end+1], nil
}

// extractFencedBlock returns the contents of the first ``` fenced block,
// dropping an optional language tag on the opening fence.
func extractFencedBlock(text string) string {
	open := strings.Index(text, "```")
	if open < 0 {
		return ""
	}
	rest := text[open+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end]) + "\n"
}
