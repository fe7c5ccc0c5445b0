package tree

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Cleaner empties a target directory.
type Cleaner struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewCleaner creates a Cleaner operating on fs.
func NewCleaner(fs afero.Fs, logger *slog.Logger) *Cleaner {
	return &Cleaner{fs: fs, logger: logger}
}

// Clean removes the sentinel from target first, then every remaining direct
// child of target. Directories are removed recursively; files and symlinks
// are removed without being followed.
//
// Entry failures are logged and collected in the Report. The returned error
// is non-nil only when target itself cannot be listed.
func (c *Cleaner) Clean(target, sentinel string) (Report, error) {
	var report Report

	c.logger.Info("cleaning up target", "target", target)

	sentinelPath := filepath.Join(target, sentinel)
	if _, err := lstat(c.fs, sentinelPath); err == nil {
		if err := c.fs.Remove(sentinelPath); err != nil {
			c.logger.Warn("failed to remove sentinel, continuing", "path", sentinelPath, "error", err)
			report.Failures = append(report.Failures, &EntryError{Op: "remove", Path: sentinelPath, Err: err})
		} else {
			c.logger.Debug("removed sentinel", "path", sentinelPath)
			report.Entries++
		}
	} else if !os.IsNotExist(err) {
		c.logger.Warn("failed to stat sentinel, continuing", "path", sentinelPath, "error", err)
	}

	entries, err := afero.ReadDir(c.fs, target)
	if err != nil {
		return report, fmt.Errorf("failed to list target directory %s: %w", target, err)
	}

	for _, entry := range entries {
		path := filepath.Join(target, entry.Name())
		if entry.IsDir() {
			if err := c.fs.RemoveAll(path); err != nil {
				report.fail(c.logger, "remove", path, err)
				continue
			}
			c.logger.Debug("removed directory recursively", "path", path)
		} else {
			if err := c.fs.Remove(path); err != nil {
				report.fail(c.logger, "remove", path, err)
				continue
			}
			c.logger.Debug("removed entry", "path", path)
		}
		report.Entries++
	}

	return report, nil
}
