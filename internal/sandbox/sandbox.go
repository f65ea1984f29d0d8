// Package sandbox executes generated experiment code in an isolated working
// directory with wall-clock and memory limits. Limit violations are
// execution outcomes, never Go errors: they feed the refinement loop.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/research"
)

// scriptName is the file the generated code is written to inside the
// per-invocation working directory.
const scriptName = "experiment.py"

// Request describes one sandbox invocation.
type Request struct {
	ExperimentID  string
	Code          string
	Timeout       time.Duration
	MemoryLimitMB int
}

// Sandbox runs experiment programs under a shared filesystem root. Each
// invocation gets a fresh unique subdirectory, so concurrent runs never
// share a working directory. Safe for concurrent use.
type Sandbox struct {
	root        string
	interpreter string
}

// New creates a Sandbox rooted at cfg.Root using cfg.Interpreter.
// The root directory is created if missing; failure to create it is a
// shared-resource initialization error that fails the whole run.
func New(cfg config.SandboxConfig) (*Sandbox, error) {
	if cfg.Interpreter == "" {
		return nil, fmt.Errorf("sandbox interpreter is not configured")
	}
	root := cfg.Root
	if root == "" {
		root = filepath.Join(".labcoat", "sandbox")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &Sandbox{root: root, interpreter: cfg.Interpreter}, nil
}

// Run executes the given code and returns the captured outcome. The working
// directory is removed on every exit path. Limit violations and nonzero
// exits are reported in the result status; the error return is reserved for
// sandbox infrastructure failures (directory creation, script write).
func (s *Sandbox) Run(ctx context.Context, req Request) (*research.ExecutionResult, error) {
	if unsafe, reason := checkCodeSafety(req.Code); unsafe {
		return &research.ExecutionResult{
			ExperimentID: req.ExperimentID,
			Status:       research.StatusRejected,
			ExitCode:     -1,
			Stderr:       "code rejected by safety check: " + reason,
		}, nil
	}

	workDir, err := os.MkdirTemp(s.root, "exp-")
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	code := req.Code
	if req.MemoryLimitMB > 0 && strings.Contains(s.interpreter, "python") {
		code = memoryLimitPrelude(req.MemoryLimitMB) + code
	}

	scriptPath := filepath.Join(workDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(code), 0644); err != nil {
		return nil, fmt.Errorf("writing experiment script: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.interpreter, scriptName)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &research.ExecutionResult{
		ExperimentID: req.ExperimentID,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		Duration:     duration,
		Metrics:      parseMetrics(stdout.String()),
	}

	switch {
	case ctx.Err() != nil:
		// Run-level cancellation, not the per-invocation timeout.
		result.Status = research.StatusCancelled
		result.ExitCode = -1
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = research.StatusTimeout
		result.ExitCode = -1
	case runErr == nil:
		result.Status = research.StatusOK
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("running experiment: %w", runErr)
		}
		if strings.Contains(result.Stderr, "MemoryError") {
			result.Status = research.StatusResourceExceeded
		} else {
			result.Status = research.StatusError
		}
	}

	return result, nil
}

// memoryLimitPrelude returns a snippet that applies an address-space rlimit
// before the experiment code runs. Best-effort: platforms without the
// resource module skip the ceiling.
func memoryLimitPrelude(limitMB int) string {
	return fmt.Sprintf(`try:
    import resource as _labcoat_resource
    _labcoat_limit = %d * 1024 * 1024
    _labcoat_resource.setrlimit(_labcoat_resource.RLIMIT_AS, (_labcoat_limit, _labcoat_limit))
except Exception:
    pass
`, limitMB)
}

// parseMetrics extracts "METRIC name=value" lines from captured stdout.
// Experiments report metrics through this channel so refinement decisions
// never depend on parsing free-form output.
func parseMetrics(stdout string) map[string]float64 {
	var metrics map[string]float64
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "METRIC ")
		if !ok {
			continue
		}
		name, value, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		if metrics == nil {
			metrics = make(map[string]float64)
		}
		metrics[strings.TrimSpace(name)] = f
	}
	return metrics
}
