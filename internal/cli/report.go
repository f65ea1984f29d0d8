// report.go implements the "labcoat report" command for printing the last
// run's report.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the last run's report",
	Long: `Print the benchmark report of the most recent completed run, including
per-idea outcomes, benchmark scores, and diagnostics for failed ideas.`,
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	path, err := latestReportPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading report %s: %w", path, err)
	}
	fmt.Print(string(data))
	return nil
}

// latestReportPath prefers the path recorded with the last run summary and
// falls back to scanning .labcoat/runs/ when the store has none.
func latestReportPath() (string, error) {
	dbPath := filepath.Join(".labcoat", "state.db")
	if _, err := os.Stat(dbPath); err == nil {
		st, err := store.Open(dbPath)
		if err == nil {
			defer st.Close()
			if sum, err := st.LatestSummary(); err == nil && sum != nil && sum.ReportPath != "" {
				if _, statErr := os.Stat(sum.ReportPath); statErr == nil {
					return sum.ReportPath, nil
				}
			}
		}
	}

	runsDir := filepath.Join(".labcoat", "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil || len(entries) == 0 {
		return "", fmt.Errorf("no completed runs found; start one with: labcoat run")
	}

	// Timestamp names sort lexicographically; newest last.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() > entries[j].Name()
	})
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(runsDir, e.Name(), "report.md")
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no completed runs found; start one with: labcoat run")
}
