// resume.go implements the "labcoat resume" command for picking up
// interrupted pipelines without admitting new ideas.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume interrupted pipelines",
	Long: `Resume every pipeline that was checkpointed mid-flight by an earlier
run. No new ideas are generated; each pipeline continues at the first
stage it never completed.`,
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(".labcoat"); os.IsNotExist(err) {
		return fmt.Errorf(".labcoat/ not found. Run 'labcoat init' first")
	}

	cfg, err := config.ReadConfig(".")
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	applyFlagOverrides(cfg)

	// Peek at the store so a no-op resume fails fast with a clear message.
	st, err := store.Open(filepath.Join(".labcoat", "state.db"))
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	cps, err := st.NonTerminal()
	_ = st.Close()
	if err != nil {
		return fmt.Errorf("listing resumable pipelines: %w", err)
	}
	if len(cps) == 0 {
		return fmt.Errorf("nothing to resume; start a new cycle with: labcoat run")
	}
	fmt.Printf("Resuming %d pipeline(s)\n", len(cps))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return executeCycle(ctx, cfg, true)
}
