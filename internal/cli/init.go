// init.go implements the "labcoat init" command.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labcoat-dev/labcoat/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize labcoat in the current directory",
	Long: `Initialize the .labcoat/ directory with a default configuration,
the runs directory, and .gitignore entries for runtime state.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	// Check for an existing .labcoat/ directory.
	labDir := filepath.Join(dir, ".labcoat")
	if info, statErr := os.Stat(labDir); statErr == nil && info.IsDir() {
		fmt.Println("Warning: .labcoat/ directory already exists.")
		fmt.Print("Reinitialize? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, subdir := range []string{".labcoat", ".labcoat/runs", ".labcoat/sandbox", ".labcoat/backups"} {
		if mkErr := os.MkdirAll(filepath.Join(dir, subdir), 0755); mkErr != nil {
			return fmt.Errorf("creating directory %s: %w", subdir, mkErr)
		}
	}

	if err := ensureGitignore(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set up .gitignore: %v\n", err)
	}

	cfg := config.DefaultConfig()
	if writeErr := config.WriteConfig(dir, cfg); writeErr != nil {
		return fmt.Errorf("writing config: %w", writeErr)
	}

	fmt.Println()
	fmt.Println("Labcoat initialized")
	fmt.Println("Configuration written to .labcoat/config.yaml")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Export your API key: export %s=...\n", cfg.Model.APIKeyEnv)
	fmt.Println("  2. Run a research cycle: labcoat run")

	return nil
}

// ensureGitignore creates or appends to .gitignore so runtime state is never
// committed. Only entries not already present are added.
func ensureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")

	// config.yaml IS committed; runtime state is not.
	requiredEntries := []string{
		".labcoat/log.jsonl",
		".labcoat/state.db",
		".labcoat/runs/",
		".labcoat/sandbox/",
		".labcoat/backups/",
	}

	existing := ""
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, entry := range requiredEntries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var toAppend strings.Builder
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		toAppend.WriteString("\n")
	}
	if existing != "" {
		toAppend.WriteString("\n# Added by labcoat init\n")
	}
	for _, entry := range missing {
		toAppend.WriteString(entry + "\n")
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(toAppend.String()); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	return nil
}
