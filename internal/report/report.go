// Package report aggregates terminal pipeline outcomes into the run-level
// benchmark report and renders the end-of-run summary.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/labcoat-dev/labcoat/internal/pipeline"
	"github.com/labcoat-dev/labcoat/internal/research"
)

// RunSummary is the aggregated result of one orchestrator run.
type RunSummary struct {
	RunID      string
	Total      int
	Reported   int
	Failed     int
	Abandoned  int
	Outcomes   []*pipeline.Outcome
	Benchmark  map[string]float64 // mean benchmark scores across reported ideas
	ReportPath string
	Duration   time.Duration
}

// Summarize builds a RunSummary from every terminal pipeline outcome.
func Summarize(runID string, outcomes []*pipeline.Outcome, duration time.Duration) *RunSummary {
	sum := &RunSummary{
		RunID:    runID,
		Total:    len(outcomes),
		Outcomes: outcomes,
		Duration: duration,
	}

	totals := map[string]float64{}
	counts := map[string]int{}
	for _, o := range outcomes {
		switch o.Stage {
		case research.StageReported:
			sum.Reported++
			for name, value := range o.Benchmark {
				totals[name] += value
				counts[name]++
			}
		case research.StageFailed:
			sum.Failed++
		case research.StageAbandoned:
			sum.Abandoned++
		}
	}

	if len(totals) > 0 {
		sum.Benchmark = make(map[string]float64, len(totals))
		for name, total := range totals {
			sum.Benchmark[name] = total / float64(counts[name])
		}
	}

	return sum
}

// WriteReport writes the run-level report.md into runDir and records its
// path on the summary.
func WriteReport(runDir string, sum *RunSummary) error {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	path := filepath.Join(runDir, "report.md")
	if err := os.WriteFile(path, []byte(renderMarkdown(sum)), 0644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	sum.ReportPath = path
	return nil
}

func renderMarkdown(sum *RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Run %s\n\n", sum.RunID)
	fmt.Fprintf(&b, "- Ideas: %d\n", sum.Total)
	fmt.Fprintf(&b, "- Reported: %d\n", sum.Reported)
	fmt.Fprintf(&b, "- Failed: %d\n", sum.Failed)
	fmt.Fprintf(&b, "- Abandoned: %d\n", sum.Abandoned)
	if sum.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", formatDuration(sum.Duration))
	}

	if len(sum.Benchmark) > 0 {
		b.WriteString("\n## Benchmark (mean across reported ideas)\n\n")
		for _, name := range sortedKeys(sum.Benchmark) {
			fmt.Fprintf(&b, "- %s: %.3f\n", name, sum.Benchmark[name])
		}
	}

	b.WriteString("\n## Ideas\n\n")
	for _, o := range sum.Outcomes {
		fmt.Fprintf(&b, "### %s\n\n", o.Idea.Title)
		fmt.Fprintf(&b, "- Outcome: %s\n", o.Stage)
		fmt.Fprintf(&b, "- Score: %.1f\n", o.Idea.Score)
		if o.Experiment != nil {
			fmt.Fprintf(&b, "- Refinements: %d\n", o.Experiment.Attempts)
		}
		if o.Augmented {
			b.WriteString("- Self-augmentation: committed\n")
		}
		if o.Failure != nil {
			fmt.Fprintf(&b, "- Diagnostic: %s\n", o.Failure.Error())
		}
		if o.ReportPath != "" {
			fmt.Fprintf(&b, "- Detail: %s\n", o.ReportPath)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Styles for the terminal summary.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 2)
)

// FormatSummary renders the end-of-run summary for the terminal. Styled
// output is used only when stdout is a TTY; plain text otherwise so piped
// output stays clean.
func FormatSummary(sum *RunSummary) string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return formatStyled(sum)
	}
	return formatPlain(sum)
}

func formatStyled(sum *RunSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Research Run %s", sum.RunID)))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s  %s  %s\n",
		successStyle.Render(fmt.Sprintf("%d reported", sum.Reported)),
		errorStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
		dimStyle.Render(fmt.Sprintf("%d abandoned", sum.Abandoned)))

	if len(sum.Benchmark) > 0 {
		b.WriteString("\n")
		for _, name := range sortedKeys(sum.Benchmark) {
			fmt.Fprintf(&b, "%s %.3f\n", dimStyle.Render(name+":"), sum.Benchmark[name])
		}
	}
	if sum.ReportPath != "" {
		b.WriteString("\n" + dimStyle.Render("Report: "+sum.ReportPath) + "\n")
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func formatPlain(sum *RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research Run %s\n", sum.RunID)
	fmt.Fprintf(&b, "  Ideas:     %d\n", sum.Total)
	fmt.Fprintf(&b, "  Reported:  %d\n", sum.Reported)
	fmt.Fprintf(&b, "  Failed:    %d\n", sum.Failed)
	fmt.Fprintf(&b, "  Abandoned: %d\n", sum.Abandoned)
	for _, name := range sortedKeys(sum.Benchmark) {
		fmt.Fprintf(&b, "  %s: %.3f\n", name, sum.Benchmark[name])
	}
	if sum.ReportPath != "" {
		fmt.Fprintf(&b, "  Report:    %s\n", sum.ReportPath)
	}
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatDuration produces a human-readable duration such as "5m 32s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
