// clean.go implements the "labcoat clean" command for pruning runtime state.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/cleanup"
	"github.com/labcoat-dev/labcoat/internal/config"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old runs, backups, and sandbox leftovers",
	Long: `Remove old run directories from .labcoat/runs/, stale augmentation
backups, and leftover sandbox work directories.

By default, removes runs and backups older than the configured max_age_days
(default 30). Use --keep to keep only the N most recent runs instead.
Use --dry-run to preview what would be removed.`,
	RunE: runClean,
}

var (
	keepFlag   int
	dryRunFlag bool
)

func init() {
	cleanCmd.Flags().IntVar(&keepFlag, "keep", 0, "Keep only the last N runs (0 = use age-based cleanup)")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(".labcoat"); os.IsNotExist(err) {
		return fmt.Errorf(".labcoat/ not found. Run 'labcoat init' first")
	}

	cfg, err := config.ReadConfig(".")
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	maxAge := cfg.Cleanup.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	runsDir := filepath.Join(".labcoat", "runs")

	var pruned []string
	if keepFlag > 0 {
		pruned, err = cleanup.PruneKeepRecent(runsDir, keepFlag, dryRunFlag)
	} else {
		pruned, err = cleanup.PruneByAge(runsDir, maxAge, dryRunFlag)
	}
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	backups, err := cleanup.PruneBackups(cfg.Augment.BackupDir, maxAge, dryRunFlag)
	if err != nil {
		return fmt.Errorf("backup cleanup failed: %w", err)
	}

	sandboxDirs, err := cleanup.PruneSandbox(cfg.Sandbox.Root, dryRunFlag)
	if err != nil {
		return fmt.Errorf("sandbox cleanup failed: %w", err)
	}

	total := len(pruned) + len(backups) + len(sandboxDirs)
	if total == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}

	for _, name := range pruned {
		fmt.Printf("  %s run %s\n", verb, name)
	}
	for _, name := range backups {
		fmt.Printf("  %s backup %s\n", verb, name)
	}
	for _, name := range sandboxDirs {
		fmt.Printf("  %s sandbox dir %s\n", verb, name)
	}
	fmt.Printf("%s %d item(s).\n", verb, total)

	return nil
}
