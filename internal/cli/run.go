// run.go implements the "labcoat run" command which drives a full research
// cycle: ideation -> evaluation -> design -> execution/refinement ->
// benchmark -> report.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/augment"
	"github.com/labcoat-dev/labcoat/internal/cleanup"
	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/model"
	"github.com/labcoat-dev/labcoat/internal/orchestrator"
	"github.com/labcoat-dev/labcoat/internal/report"
	"github.com/labcoat-dev/labcoat/internal/sandbox"
	"github.com/labcoat-dev/labcoat/internal/stage"
	"github.com/labcoat-dev/labcoat/internal/store"
	"github.com/labcoat-dev/labcoat/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full research cycle",
	Long: `Run the full labcoat cycle: generate research ideas, evaluate and prune
them, design and execute experiments, refine failures, and write the run
report. Interrupted pipelines from earlier runs are resumed first.`,
	RunE: runRun,
}

var (
	modelFlag       string
	ideasFlag       int
	refinementsFlag int
	concurrencyFlag int
	augmentFlag     bool
)

func init() {
	runCmd.Flags().StringVar(&modelFlag, "model", "", "Override the configured model name")
	runCmd.Flags().IntVar(&ideasFlag, "ideas", 0, "Number of ideas to generate (default from config)")
	runCmd.Flags().IntVar(&refinementsFlag, "refinements", -1, "Max refinement attempts per experiment")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Max pipelines running at once")
	runCmd.Flags().BoolVar(&augmentFlag, "augment", false, "Enable the self-augmentation stage for this run")
}

func runRun(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(".labcoat"); os.IsNotExist(err) {
		return fmt.Errorf(".labcoat/ not found. Run 'labcoat init' first")
	}

	cfg, err := config.ReadConfig(".")
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	applyFlagOverrides(cfg)

	// Interrupts cancel the run; checkpointed pipelines pick up next time.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return executeCycle(ctx, cfg, false)
}

// applyFlagOverrides folds run flags into the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if modelFlag != "" {
		cfg.Model.Name = modelFlag
	}
	if ideasFlag > 0 {
		cfg.Run.NumIdeas = ideasFlag
	}
	if refinementsFlag >= 0 {
		cfg.Run.MaxRefinements = refinementsFlag
	}
	if concurrencyFlag > 0 {
		cfg.Run.Concurrency = concurrencyFlag
	}
	if augmentFlag {
		cfg.Augment.Enabled = true
	}
}

// executeCycle wires the shared infrastructure and runs the orchestrator.
// Used by both "run" and "resume".
func executeCycle(ctx context.Context, cfg *config.Config, resumeOnly bool) error {
	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runDir := filepath.Join(".labcoat", "runs", timestamp)
	if mkErr := os.MkdirAll(runDir, 0755); mkErr != nil {
		return fmt.Errorf("creating run directory: %w", mkErr)
	}

	// Auto-prune old run directories.
	if cfg.Cleanup.MaxAgeDays > 0 {
		runsDir := filepath.Join(".labcoat", "runs")
		pruned, pruneErr := cleanup.PruneByAge(runsDir, cfg.Cleanup.MaxAgeDays, false)
		if pruneErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", pruneErr)
		} else if len(pruned) > 0 {
			fmt.Fprintf(os.Stderr, "Cleaned up %d old run(s)\n", len(pruned))
		}
	}

	logger, err := log.NewLogger(projectRoot)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	gateway, err := model.NewGateway(cfg.Model)
	if err != nil {
		return fmt.Errorf("configuring model gateway: %w", err)
	}

	box, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("configuring sandbox: %w", err)
	}

	st, err := store.Open(filepath.Join(".labcoat", "state.db"))
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	runner := stage.NewRunner(gateway, box, cfg, logger)

	var augmenter *augment.Augmentor
	if cfg.Augment.Enabled {
		augmenter = augment.New(runner, logger, projectRoot, cfg.Augment.BackupDir)
	}

	opts := orchestrator.Options{
		RunID:      uuid.New().String(),
		Runner:     runner,
		Store:      st,
		Logger:     logger,
		Config:     cfg,
		RunDir:     runDir,
		ResumeOnly: resumeOnly,
	}
	if augmenter != nil {
		opts.Augmenter = augmenter
	}
	if verbose {
		opts.Observer = ui.NewProgress()
	}

	sum, err := orchestrator.New(opts).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Print(report.FormatSummary(sum))

	if sum.Reported == 0 {
		return fmt.Errorf("no idea reached a report (failed: %d, abandoned: %d)", sum.Failed, sum.Abandoned)
	}
	return nil
}
