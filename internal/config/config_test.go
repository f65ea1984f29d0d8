package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Run.MaxRefinements = 7
	cfg.Model.Name = "gpt-4o-mini"
	cfg.Augment.Enabled = true

	if err := WriteConfig(tmpDir, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	if loaded.Run.MaxRefinements != 7 {
		t.Errorf("Run.MaxRefinements: got %d, want 7", loaded.Run.MaxRefinements)
	}
	if loaded.Model.Name != "gpt-4o-mini" {
		t.Errorf("Model.Name: got %q, want %q", loaded.Model.Name, "gpt-4o-mini")
	}
	if !loaded.Augment.Enabled {
		t.Error("Augment.Enabled: got false, want true")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Run.RetryLimit != 3 {
		t.Errorf("default RetryLimit: got %d, want 3", cfg.Run.RetryLimit)
	}
	if cfg.Run.EvalThreshold != 6.0 {
		t.Errorf("default EvalThreshold: got %v, want 6.0", cfg.Run.EvalThreshold)
	}
	if cfg.Augment.Enabled {
		t.Error("default Augment.Enabled: got true, want false")
	}
	if cfg.Sandbox.Interpreter != "python3" {
		t.Errorf("default Sandbox.Interpreter: got %q, want python3", cfg.Sandbox.Interpreter)
	}
}

func TestBackwardCompatibility(t *testing.T) {
	// Simulate an older config file missing newer sections.
	tmpDir := t.TempDir()
	oldConfig := `version: 1
model:
  name: gpt-4
  base_url: https://api.openai.com/v1
run:
  num_ideas: 10
  max_refinements: 2
`
	cfgDir := filepath.Join(tmpDir, ".labcoat")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(oldConfig), 0644); err != nil {
		t.Fatalf("writing old config: %v", err)
	}

	loaded, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed on old config: %v", err)
	}

	if loaded.Run.NumIdeas != 10 {
		t.Errorf("Run.NumIdeas: got %d, want 10", loaded.Run.NumIdeas)
	}
	// Missing sections come back zero-valued, not as errors.
	if loaded.Augment.Enabled {
		t.Error("Augment.Enabled should default to false for old configs")
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	if _, err := ReadConfig(t.TempDir()); err == nil {
		t.Error("expected error reading missing config, got nil")
	}
}
