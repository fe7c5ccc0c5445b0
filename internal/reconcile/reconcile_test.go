package reconcile

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sentinel = ".ready"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingFs records every mutating call made through it.
type recordingFs struct {
	afero.Fs
	ops       []string
	renameErr error
}

func (f *recordingFs) Mkdir(name string, perm os.FileMode) error {
	f.ops = append(f.ops, "mkdir "+name)
	return f.Fs.Mkdir(name, perm)
}

func (f *recordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		f.ops = append(f.ops, "write "+name)
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *recordingFs) Remove(name string) error {
	f.ops = append(f.ops, "remove "+name)
	return f.Fs.Remove(name)
}

func (f *recordingFs) RemoveAll(name string) error {
	f.ops = append(f.ops, "removeall "+name)
	return f.Fs.RemoveAll(name)
}

func (f *recordingFs) Rename(oldname, newname string) error {
	f.ops = append(f.ops, "rename "+newname)
	if f.renameErr != nil {
		return f.renameErr
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *recordingFs) Chmod(name string, mode os.FileMode) error {
	f.ops = append(f.ops, "chmod "+name)
	return f.Fs.Chmod(name, mode)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// snapshot returns every file under root keyed by relative path. Directories
// map to "/" so that empty directories are visible too.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		switch {
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			require.NoError(t, err)
			out[rel] = "-> " + link
		case d.IsDir():
			out[rel] = "/"
		default:
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out[rel] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestPopulate_InitialRun(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir/b.txt": "world",
	})

	r := New(afero.NewOsFs(), src, sentinel, dst, testLogger())
	result, err := r.Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomePopulated, result.Outcome)
	assert.Zero(t, result.Issues())

	assert.Equal(t, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir":       "/",
		"subdir/b.txt": "world",
	}, snapshot(t, dst))
}

func TestPopulate_UnchangedRerunIsNoop(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir/b.txt": "world",
	})
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	_, err := New(afero.NewOsFs(), src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)
	before := snapshot(t, dst)

	rec := &recordingFs{Fs: afero.NewOsFs()}
	result, err := New(rec, src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)

	assert.Equal(t, OutcomeCurrent, result.Outcome)
	assert.False(t, result.Outcome.Mutated())
	assert.Empty(t, rec.ops, "rerun must not touch the target")
	assert.Equal(t, before, snapshot(t, dst))
}

func TestPopulate_SentinelUpdate(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir/b.txt": "world",
	})

	r := New(afero.NewOsFs(), src, sentinel, dst, testLogger())
	_, err := r.Populate()
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(src, "a.txt")))
	writeFiles(t, src, map[string]string{
		"c.txt":  "new",
		sentinel: "v2",
	})

	result, err := r.Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomePopulated, result.Outcome)

	assert.Equal(t, map[string]string{
		sentinel:       "v2",
		"c.txt":        "new",
		"subdir":       "/",
		"subdir/b.txt": "world",
	}, snapshot(t, dst))
}

func TestPopulate_FreshnessReplacesTarget(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target string
		source string
	}{
		{name: "different version", target: "v1", source: "v2"},
		{name: "trailing newline differs", target: "v1", source: "v1\n"},
		{name: "binary content", target: "\x00\x01", source: "\x00\x02"},
		{name: "prefix", target: "v1", source: "v10"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := t.TempDir()
			dst := t.TempDir()
			writeFiles(t, src, map[string]string{sentinel: tc.source, "fresh.txt": "fresh"})
			writeFiles(t, dst, map[string]string{sentinel: tc.target, "stale.txt": "stale"})

			result, err := New(afero.NewOsFs(), src, sentinel, dst, testLogger()).Populate()
			require.NoError(t, err)
			assert.Equal(t, OutcomePopulated, result.Outcome)

			assert.Equal(t, map[string]string{
				sentinel:    tc.source,
				"fresh.txt": "fresh",
			}, snapshot(t, dst))
		})
	}
}

func TestPopulate_EmptySentinelGuard(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{name: "zero length", content: ""},
		{name: "spaces", content: "   "},
		{name: "mixed whitespace", content: " \n\t\r\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := t.TempDir()
			dst := t.TempDir()
			writeFiles(t, src, map[string]string{sentinel: tc.content, "a.txt": "hello"})
			writeFiles(t, dst, map[string]string{sentinel: "v1", "old.txt": "old"})
			before := snapshot(t, dst)

			rec := &recordingFs{Fs: afero.NewOsFs()}
			result, err := New(rec, src, sentinel, dst, testLogger()).Populate()
			require.NoError(t, err)

			assert.Equal(t, OutcomeEmpty, result.Outcome)
			assert.Empty(t, rec.ops)
			assert.Equal(t, before, snapshot(t, dst))
		})
	}
}

func TestPopulate_NoSentinel(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{"a.txt": "hello"})
	writeFiles(t, dst, map[string]string{"old.txt": "old"})

	result, err := New(afero.NewOsFs(), src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSentinel, result.Outcome)
	assert.Equal(t, map[string]string{"old.txt": "old"}, snapshot(t, dst))
}

func TestPopulate_UnreadableSentinel(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	// A directory named like the sentinel exists but cannot be read as a file.
	require.NoError(t, os.Mkdir(filepath.Join(src, sentinel), 0755))
	writeFiles(t, dst, map[string]string{"old.txt": "old"})

	result, err := New(afero.NewOsFs(), src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnreadable, result.Outcome)
	assert.Equal(t, map[string]string{"old.txt": "old"}, snapshot(t, dst))
}

func TestPopulate_SentinelCopiedLast(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir/b.txt": "world",
		"z.txt":        "last in walk order",
	})

	rec := &recordingFs{Fs: afero.NewOsFs()}
	_, err := New(rec, src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)

	// Drop the deferred temp file removal that follows the final rename.
	ops := rec.ops
	for len(ops) > 0 && strings.HasPrefix(ops[len(ops)-1], "remove ") {
		ops = ops[:len(ops)-1]
	}
	require.NotEmpty(t, ops)
	assert.Equal(t, "rename "+filepath.Join(dst, sentinel), ops[len(ops)-1])
	assert.Contains(t, ops, "write "+filepath.Join(dst, "z.txt"))

	// The tree walk never writes the sentinel itself.
	for _, op := range ops[:len(ops)-1] {
		assert.False(t, strings.HasSuffix(op, string(filepath.Separator)+sentinel),
			"sentinel touched before the final step: %s", op)
	}
}

func TestPopulate_SentinelCopyFailureKeepsTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{sentinel: "v1", "a.txt": "hello"})

	rec := &recordingFs{Fs: afero.NewOsFs(), renameErr: errors.New("rename refused")}
	result, err := New(rec, src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)

	assert.Equal(t, OutcomePopulated, result.Outcome)
	require.Error(t, result.SentinelErr)
	assert.Equal(t, 1, result.Issues())

	got := snapshot(t, dst)
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"a.txt"}, keys, "tree stays, sentinel and temp file absent")
}

func TestPopulate_EntryFailuresAreReported(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{sentinel: "v1", "a.txt": "hello"})

	// A read-only filesystem turns every target mutation into an entry failure.
	result, err := New(afero.NewReadOnlyFs(afero.NewOsFs()), src, sentinel, dst, testLogger()).Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomePopulated, result.Outcome)
	assert.Len(t, result.Copied.Failures, 1)
	assert.Error(t, result.SentinelErr)
	assert.Equal(t, 2, result.Issues())
}

func TestPopulate_MissingTarget(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{sentinel: "v1"})

	_, err := New(afero.NewOsFs(), src, sentinel, filepath.Join(t.TempDir(), "gone"), testLogger()).Populate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup failed")
}

func TestCleanup_EmptiesTarget(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFiles(t, src, map[string]string{
		sentinel:       "v1",
		"a.txt":        "hello",
		"subdir/b.txt": "world",
	})

	r := New(afero.NewOsFs(), src, sentinel, dst, testLogger())
	_, err := r.Populate()
	require.NoError(t, err)

	report, err := r.Cleanup()
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, snapshot(t, dst))

	// The next populate starts from scratch.
	result, err := r.Populate()
	require.NoError(t, err)
	assert.Equal(t, OutcomePopulated, result.Outcome)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "populated", OutcomePopulated.String())
	assert.Equal(t, "current", OutcomeCurrent.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
