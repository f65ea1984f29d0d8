// Package config handles reading and writing .labcoat/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .labcoat/config.yaml.
type Config struct {
	Version int           `yaml:"version"`
	Model   ModelConfig   `yaml:"model"`
	Run     RunConfig     `yaml:"run"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Augment AugmentConfig `yaml:"augment"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

// ModelConfig holds the LLM backend settings.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"` // env var holding the API key
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"` // per-request HTTP timeout
}

// RunConfig controls pipeline admission and retry behaviour.
type RunConfig struct {
	NumIdeas       int     `yaml:"num_ideas"`
	Concurrency    int     `yaml:"concurrency"`
	MaxRefinements int     `yaml:"max_refinements"`
	RetryLimit     int     `yaml:"retry_limit"`
	EvalThreshold  float64 `yaml:"eval_threshold"` // ideas scoring below are abandoned
	BackoffBaseMS  int     `yaml:"backoff_base_ms"`
	BackoffMaxMS   int     `yaml:"backoff_max_ms"`
}

// SandboxConfig controls experiment code execution.
type SandboxConfig struct {
	Interpreter   string `yaml:"interpreter"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	MemoryLimitMB int    `yaml:"memory_limit_mb"` // 0 disables the ceiling
	Root          string `yaml:"root"`            // working dir root, default .labcoat/sandbox
}

// AugmentConfig controls the self-augmentation stage.
type AugmentConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BackupDir string `yaml:"backup_dir"` // default .labcoat/backups
}

// CleanupConfig controls pruning of old run directories.
type CleanupConfig struct {
	MaxAgeDays int `yaml:"max_age_days"` // 0 disables age-based pruning
	KeepRecent int `yaml:"keep_recent"`
}

// configFileName is the path relative to the project root.
const configDir = ".labcoat"
const configFile = "config.yaml"

// ReadConfig reads .labcoat/config.yaml from the given project directory.
// dir is the project root (not .labcoat/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .labcoat/config.yaml in the given project directory.
// Creates the .labcoat/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Model: ModelConfig{
			Name:        "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   4000,
			Temperature: 0.7,
			TimeoutSecs: 120,
		},
		Run: RunConfig{
			NumIdeas:       5,
			Concurrency:    3,
			MaxRefinements: 3,
			RetryLimit:     3,
			EvalThreshold:  6.0,
			BackoffBaseMS:  500,
			BackoffMaxMS:   8000,
		},
		Sandbox: SandboxConfig{
			Interpreter: "python3",
			TimeoutSecs: 300,
			Root:        filepath.Join(configDir, "sandbox"),
		},
		Augment: AugmentConfig{
			Enabled:   false,
			BackupDir: filepath.Join(configDir, "backups"),
		},
		Cleanup: CleanupConfig{
			MaxAgeDays: 30,
		},
	}
}
