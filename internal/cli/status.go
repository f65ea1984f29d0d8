// status.go implements the "labcoat status" command showing in-flight
// pipelines and the last completed run.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and run status",
	Long: `Display every pipeline still in flight (resumable with 'labcoat resume')
and the outcome of the most recent completed run.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath := filepath.Join(".labcoat", "state.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no runs found; start one with: labcoat run")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	cps, err := st.NonTerminal()
	if err != nil {
		return fmt.Errorf("listing pipelines: %w", err)
	}

	fmt.Println("Labcoat Status")
	fmt.Println()

	if len(cps) == 0 {
		fmt.Println("  No pipelines in flight.")
	} else {
		for _, cp := range cps {
			fmt.Printf("  %-36s  %-12s  updated %s\n",
				cp.PipelineID, cp.Stage, cp.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		fmt.Printf("  %d pipeline(s) resumable with: labcoat resume\n", len(cps))
	}
	fmt.Println()

	sum, err := st.LatestSummary()
	if err != nil {
		return fmt.Errorf("reading run summary: %w", err)
	}
	if sum == nil {
		fmt.Println("  No completed runs yet.")
		return nil
	}

	fmt.Printf("Last run: %s (%s)\n", sum.RunID, sum.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Ideas:     %d\n", sum.Total)
	fmt.Printf("  Reported:  %d\n", sum.Reported)
	fmt.Printf("  Failed:    %d\n", sum.Failed)
	fmt.Printf("  Abandoned: %d\n", sum.Abandoned)
	if sum.ReportPath != "" {
		fmt.Printf("  Report:    %s\n", sum.ReportPath)
	}

	return nil
}
