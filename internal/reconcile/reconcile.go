// Package reconcile decides whether a target directory is stale with respect
// to the sentinel in its source directory and repopulates or clears it.
package reconcile

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/schaermu/component-monitor/internal/tree"
)

// Outcome describes what a Populate call did.
type Outcome int

const (
	// OutcomeNoSentinel means the source has no sentinel yet.
	OutcomeNoSentinel Outcome = iota
	// OutcomeUnreadable means the source sentinel exists but could not be read.
	OutcomeUnreadable
	// OutcomeEmpty means the source sentinel holds only whitespace.
	OutcomeEmpty
	// OutcomeCurrent means the target sentinel already matches the source.
	OutcomeCurrent
	// OutcomePopulated means the target was cleared and copied again.
	OutcomePopulated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoSentinel:
		return "no-sentinel"
	case OutcomeUnreadable:
		return "unreadable"
	case OutcomeEmpty:
		return "empty"
	case OutcomeCurrent:
		return "current"
	case OutcomePopulated:
		return "populated"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Mutated reports whether the outcome touched the target directory.
func (o Outcome) Mutated() bool {
	return o == OutcomePopulated
}

// Result is the detailed result of a Populate call.
type Result struct {
	Outcome Outcome
	// Cleaned and Copied are only set when Outcome is OutcomePopulated.
	Cleaned tree.Report
	Copied  tree.Report
	// SentinelErr is set when the final sentinel copy failed.
	SentinelErr error
}

// Issues returns the number of non-fatal failures recorded during populate.
func (r Result) Issues() int {
	n := len(r.Cleaned.Failures) + len(r.Copied.Failures)
	if r.SentinelErr != nil {
		n++
	}
	return n
}

// Reconciler keeps Target in line with Source, gated by the sentinel file.
type Reconciler struct {
	fs       afero.Fs
	source   string
	sentinel string
	target   string
	copier   *tree.Copier
	cleaner  *tree.Cleaner
	logger   *slog.Logger
}

// New creates a Reconciler for the given source directory, sentinel name and
// target directory.
func New(fs afero.Fs, source, sentinel, target string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		fs:       fs,
		source:   source,
		sentinel: sentinel,
		target:   target,
		copier:   tree.NewCopier(fs, logger),
		cleaner:  tree.NewCleaner(fs, logger),
		logger:   logger,
	}
}

// Populate refreshes the target when the source sentinel is present, non-empty
// and differs from the target sentinel. The tree is copied first and the
// sentinel last, so a fresh target sentinel always postdates a complete copy.
//
// Sentinel problems and per-entry failures are logged and reported in the
// Result. An error is returned only when the source or target directory
// cannot be accessed at all.
func (r *Reconciler) Populate() (Result, error) {
	r.logger.Info("populating target",
		"source", r.source,
		"target", r.target,
		"sentinel", r.sentinel)

	srcSentinel := filepath.Join(r.source, r.sentinel)

	if _, err := r.fs.Stat(srcSentinel); err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("sentinel file not found, skipping", "path", srcSentinel)
			return Result{Outcome: OutcomeNoSentinel}, nil
		}
		r.logger.Error("failed to stat sentinel file", "path", srcSentinel, "error", err)
		return Result{Outcome: OutcomeUnreadable}, nil
	}

	data, err := afero.ReadFile(r.fs, srcSentinel)
	if err != nil {
		r.logger.Error("failed to read sentinel file", "path", srcSentinel, "error", err)
		return Result{Outcome: OutcomeUnreadable}, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		r.logger.Error("found empty sentinel file", "path", srcSentinel)
		return Result{Outcome: OutcomeEmpty}, nil
	}

	tgtSentinel := filepath.Join(r.target, r.sentinel)
	if current, err := afero.ReadFile(r.fs, tgtSentinel); err == nil && bytes.Equal(current, data) {
		r.logger.Info("found current sentinel, skipping")
		return Result{Outcome: OutcomeCurrent}, nil
	}

	result := Result{Outcome: OutcomePopulated}

	result.Cleaned, err = r.cleaner.Clean(r.target, r.sentinel)
	if err != nil {
		return result, fmt.Errorf("cleanup failed: %w", err)
	}

	result.Copied, err = r.copier.CopyTree(r.source, r.target, r.sentinel)
	if err != nil {
		return result, fmt.Errorf("copy failed: %w", err)
	}

	// Copy the bytes that were compared, not whatever the producer may have
	// written since.
	if err := r.writeSentinel(tgtSentinel, srcSentinel, data); err != nil {
		r.logger.Error("failed to copy sentinel", "source", srcSentinel, "dest", tgtSentinel, "error", err)
		result.SentinelErr = err
	} else {
		r.logger.Debug("copied sentinel", "source", srcSentinel, "dest", tgtSentinel)
	}

	if n := result.Issues(); n > 0 {
		r.logger.Warn("populate completed with issues", "issues", n)
	} else {
		r.logger.Info("populate completed", "entries", result.Copied.Entries)
	}

	return result, nil
}

func (r *Reconciler) writeSentinel(dst, src string, data []byte) error {
	info, err := r.fs.Stat(src)
	if err != nil {
		return err
	}
	return tree.WriteFileAtomic(r.fs, dst, data, info.Mode().Perm())
}

// Cleanup empties the target directory, sentinel first.
func (r *Reconciler) Cleanup() (tree.Report, error) {
	report, err := r.cleaner.Clean(r.target, r.sentinel)
	if err != nil {
		return report, fmt.Errorf("cleanup failed: %w", err)
	}
	if !report.OK() {
		r.logger.Warn("cleanup completed with issues", "issues", len(report.Failures))
	}
	return report, nil
}
