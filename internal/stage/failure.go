// failure.go defines the typed failure surfaced to pipelines when a stage
// cannot produce an output.
package stage

import (
	"fmt"

	"github.com/labcoat-dev/labcoat/internal/research"
)

// FailureKind classifies why a stage failed after the runner's retry policy
// was exhausted.
type FailureKind string

const (
	// FailureTransient means retries were exhausted on retryable errors.
	FailureTransient FailureKind = "transient_exhausted"
	// FailureFatal means the backend rejected the request outright.
	FailureFatal FailureKind = "fatal"
	// FailureMalformed means the model output never parsed into the
	// stage's expected shape.
	FailureMalformed FailureKind = "malformed_output"
	// FailureCancelled means the run-level cancellation signal fired.
	FailureCancelled FailureKind = "cancelled"
)

// Failure is a stage-level failure. Only retry-exhausted or fatal errors
// surface here; stage-local transient errors are retried inside the runner.
type Failure struct {
	Kind  FailureKind
	Stage research.StageKind
	Err   error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("stage %s failed (%s): %v", f.Stage, f.Kind, f.Err)
	}
	return fmt.Sprintf("stage %s failed (%s)", f.Stage, f.Kind)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}
