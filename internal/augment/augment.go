// Package augment implements gated self-modification: the system proposes a
// change to its own code, validates it in the sandbox, and commits it only
// when the check passes. A backup of the current tree is taken before any
// file is touched.
package augment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/labcoat-dev/labcoat/internal/log"
	"github.com/labcoat-dev/labcoat/internal/research"
	"github.com/labcoat-dev/labcoat/internal/stage"
)

// Proposer produces and validates change proposals. Satisfied by
// *stage.Runner.
type Proposer interface {
	ProposeChange(ctx context.Context, pipelineID string, findings string, events []log.LogEvent) (*research.ChangeProposal, *stage.Failure)
	ValidateChange(ctx context.Context, proposal *research.ChangeProposal) (bool, *stage.Failure)
}

// historyWindow is how many recent log events feed the augmentation prompt.
const historyWindow = 50

// Result reports what the augmentation stage did. A discarded proposal is a
// normal outcome, not an error.
type Result struct {
	Applied    bool
	Summary    string
	Reason     string // why the proposal was discarded, when it was
	BackupPath string
}

// Augmentor runs the self-augmentation stage for one pipeline.
type Augmentor struct {
	proposer Proposer
	logger   *log.Logger
	root     string // project root whose code may be modified
	backups  string
}

// New builds an Augmentor rooted at the project directory.
func New(proposer Proposer, logger *log.Logger, root, backupDir string) *Augmentor {
	return &Augmentor{proposer: proposer, logger: logger, root: root, backups: backupDir}
}

// Run proposes a change based on the pipeline's findings, validates it in
// the sandbox, and commits it only on a passing check. Every non-cancellation
// problem is absorbed into a discarded Result so augmentation can never fail
// a pipeline that produced real findings.
func (a *Augmentor) Run(ctx context.Context, pipelineID, findings string) (*Result, error) {
	events, err := a.recentEvents()
	if err != nil {
		events = nil
	}

	proposal, failure := a.proposer.ProposeChange(ctx, pipelineID, findings, events)
	if failure != nil {
		if failure.Kind == stage.FailureCancelled {
			return nil, failure
		}
		return a.discard(pipelineID, "", fmt.Sprintf("proposal stage failed: %v", failure)), nil
	}

	a.logEvent(log.LogEvent{
		Event:      log.EventAugmentProposed,
		PipelineID: pipelineID,
		Reason:     proposal.Summary,
	})

	passed, failure := a.proposer.ValidateChange(ctx, proposal)
	if failure != nil {
		if failure.Kind == stage.FailureCancelled {
			return nil, failure
		}
		return a.discard(pipelineID, proposal.Summary, fmt.Sprintf("validation errored: %v", failure)), nil
	}
	if !passed {
		return a.discard(pipelineID, proposal.Summary, "check code did not pass"), nil
	}

	backupPath, err := BackupCode(a.root, a.backups, pipelineID)
	if err != nil {
		return a.discard(pipelineID, proposal.Summary, fmt.Sprintf("backup failed: %v", err)), nil
	}

	if err := a.commit(proposal); err != nil {
		// Partial writes are rolled back from the backup we just took.
		if restoreErr := RestoreCode(backupPath, a.root); restoreErr != nil {
			return a.discard(pipelineID, proposal.Summary,
				fmt.Sprintf("commit failed (%v) and restore failed (%v); backup at %s", err, restoreErr, backupPath)), nil
		}
		return a.discard(pipelineID, proposal.Summary, fmt.Sprintf("commit failed, restored from backup: %v", err)), nil
	}

	a.logEvent(log.LogEvent{
		Event:      log.EventAugmentCommitted,
		PipelineID: pipelineID,
		Reason:     proposal.Summary,
		Data:       map[string]interface{}{"backup": backupPath, "files": len(proposal.Files)},
	})

	return &Result{Applied: true, Summary: proposal.Summary, BackupPath: backupPath}, nil
}

// commit writes every proposed file under the project root. Paths were
// checked at parse time; they are re-checked here because commit is the last
// gate before disk.
func (a *Augmentor) commit(proposal *research.ChangeProposal) error {
	for _, f := range proposal.Files {
		clean := filepath.Clean(f.Path)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("proposal path %q escapes project root", f.Path)
		}
		target := filepath.Join(a.root, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", clean, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", clean, err)
		}
	}
	return nil
}

func (a *Augmentor) discard(pipelineID, summary, reason string) *Result {
	a.logEvent(log.LogEvent{
		Event:      log.EventAugmentDiscarded,
		PipelineID: pipelineID,
		Reason:     reason,
	})
	return &Result{Applied: false, Summary: summary, Reason: reason}
}

func (a *Augmentor) recentEvents() ([]log.LogEvent, error) {
	if a.logger == nil {
		return nil, nil
	}
	return a.logger.Tail(historyWindow)
}

func (a *Augmentor) logEvent(e log.LogEvent) {
	if a.logger == nil {
		return
	}
	_ = a.logger.Append(e)
}
