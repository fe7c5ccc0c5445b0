package tree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Copier recreates a source tree under a target directory.
type Copier struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewCopier creates a Copier operating on fs.
func NewCopier(fs afero.Fs, logger *slog.Logger) *Copier {
	return &Copier{fs: fs, logger: logger}
}

// CopyTree walks source depth-first and mirrors every entry into target,
// except the top-level entry named exclude. Symlinks are recreated with the
// same link text, directories are created one level at a time and regular
// files are copied byte for byte.
//
// Per-entry failures are logged and collected in the Report. The returned
// error is non-nil only when source itself cannot be read.
func (c *Copier) CopyTree(source, target, exclude string) (Report, error) {
	var report Report

	c.logger.Info("copying tree", "source", source, "target", target)

	err := afero.Walk(c.fs, source, func(path string, info os.FileInfo, walkErr error) error {
		if path == source {
			if walkErr != nil {
				return walkErr
			}
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			report.fail(c.logger, "resolve", path, err)
			return nil
		}

		if rel == exclude {
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if walkErr != nil {
			report.fail(c.logger, "walk", path, walkErr)
			return nil
		}

		dst := filepath.Join(target, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := c.copySymlink(path, dst); err != nil {
				report.fail(c.logger, "symlink", dst, err)
				return nil
			}
			c.logger.Debug("created symlink", "path", dst)

		case info.IsDir():
			if err := c.fs.Mkdir(dst, 0755); err != nil {
				report.fail(c.logger, "mkdir", dst, err)
				// Children of a directory we could not create would all fail.
				return filepath.SkipDir
			}
			c.logger.Debug("created directory", "path", dst)

		case info.Mode().IsRegular():
			if err := CopyFile(c.fs, path, dst); err != nil {
				report.fail(c.logger, "copy", dst, err)
				return nil
			}
			c.logger.Debug("copied file", "source", path, "dest", dst)

		default:
			c.logger.Warn("skipping unsupported file type", "path", path, "mode", info.Mode().Type().String())
			return nil
		}

		report.Entries++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", source, err)
	}

	return report, nil
}

func (c *Copier) copySymlink(src, dst string) error {
	reader, ok := c.fs.(afero.LinkReader)
	if !ok {
		return afero.ErrNoReadlink
	}
	linker, ok := c.fs.(afero.Linker)
	if !ok {
		return afero.ErrNoSymlink
	}

	linkTarget, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return err
	}
	return linker.SymlinkIfPossible(linkTarget, dst)
}

// CopyFile copies the contents and permission bits of src to dst, truncating
// dst if it already exists.
func CopyFile(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "copy", Path: src, Err: errors.New("is a directory")}
	}

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

// WriteFileAtomic writes data to path through a temporary file in the same
// directory, so readers of path never observe partial content.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), ".component-monitor-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = fsys.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// TempFile creates the file 0600.
	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return err
	}

	return fsys.Rename(tmpPath, path)
}
