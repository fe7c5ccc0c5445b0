// Package tree implements the best-effort directory operations used to mirror
// a source tree into a target directory: a recursive copier that recreates
// files, directories and symlinks, and a cleaner that empties a directory.
//
// Both operations fold over the entries they visit. A failure on one entry is
// logged, recorded in the returned Report and does not stop the walk; only a
// failure to access the root directory itself is returned as an error.
package tree

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
)

// EntryError records a failed operation on a single tree entry.
type EntryError struct {
	Op   string
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Report summarises a best-effort tree operation.
type Report struct {
	// Entries is the number of entries processed successfully.
	Entries int
	// Failures holds one error per entry that could not be processed.
	Failures []*EntryError
}

// OK reports whether every visited entry was processed.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// Err joins all entry failures into a single error, or returns nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (r *Report) fail(logger *slog.Logger, op, path string, err error) {
	logger.Error("entry operation failed", "op", op, "path", path, "error", err)
	r.Failures = append(r.Failures, &EntryError{Op: op, Path: path, Err: err})
}

// lstat does not follow symlinks when the filesystem supports it.
func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}
