// Package testutil provides test helper utilities for labcoat tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempProject creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// ResearchProject returns file contents for a minimal project tree the
// augmentation stage can back up and modify.
func ResearchProject() map[string]string {
	return map[string]string{
		"main.py":          "print('v1')\n",
		"lib/util.py":      "x = 1\n",
		"requirements.txt": "numpy\n",
	}
}

// ExperimentScript returns a small experiment program that reports one
// metric and exits cleanly.
func ExperimentScript() string {
	return "print('METRIC accuracy=0.9')\n"
}

// InitializedProject returns a project tree that already carries labcoat
// state, for tests that must verify runtime files stay out of backups.
func InitializedProject() map[string]string {
	files := ResearchProject()
	files[".labcoat/log.jsonl"] = "{}\n"
	return files
}
