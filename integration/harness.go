//go:build integration

package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/schaermu/component-monitor/internal/testutil"
)

const (
	binaryName     = "component-monitor"
	defaultTimeout = 2 * time.Minute
	pollInterval   = 20 * time.Millisecond
	settleTimeout  = 10 * time.Second
)

// Harness runs the built binary against a pair of temporary directories.
type Harness struct {
	t      *testing.T
	binary string

	Source   string
	Sentinel string
	Target   string

	cmd    *exec.Cmd
	output *syncBuffer
	done   chan struct{}
	err    error
}

// NewHarness prepares empty source and target directories for binary.
func NewHarness(t *testing.T, binary string) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:        t,
		binary:   binary,
		Source:   filepath.Join(root, "source"),
		Sentinel: ".ready",
		Target:   filepath.Join(root, "target"),
	}
	for _, dir := range []string{h.Source, h.Target} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return h
}

// BuildBinary compiles the monitor into a temporary directory owned by t.
func BuildBinary(ctx context.Context, t *testing.T) (string, error) {
	t.Helper()
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return "", fmt.Errorf("get project root: %w", err)
	}

	out := filepath.Join(t.TempDir(), binaryName)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", out, "./cmd/"+binaryName)
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build: %w", err)
	}
	return out, nil
}

// SentinelPath returns the sentinel's path under the source directory.
func (h *Harness) SentinelPath() string {
	return filepath.Join(h.Source, h.Sentinel)
}

// Start launches the monitor with extra arguments appended after the paths.
func (h *Harness) Start(ctx context.Context, extra ...string) {
	h.t.Helper()
	args := append([]string{"--debug", "--log-format", "text", h.SentinelPath(), h.Target}, extra...)

	h.output = &syncBuffer{}
	h.cmd = exec.CommandContext(ctx, h.binary, args...)
	h.cmd.Stdout = h.output
	h.cmd.Stderr = h.output
	// The journal must not be picked up when tests run under systemd.
	h.cmd.Env = append(os.Environ(), "JOURNAL_STREAM=", "NOTIFY_SOCKET=")
	if err := h.cmd.Start(); err != nil {
		h.t.Fatalf("start %s: %v", h.binary, err)
	}

	h.done = make(chan struct{})
	go func() {
		h.err = h.cmd.Wait()
		close(h.done)
	}()

	h.t.Cleanup(func() {
		if h.Running() {
			_ = h.cmd.Process.Kill()
			<-h.done
		}
		if h.t.Failed() {
			h.t.Logf("monitor output:\n%s", h.output.String())
		}
	})

	h.WaitForLog("starting event monitoring")
}

// Running reports whether the monitor process has not exited yet.
func (h *Harness) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Signal delivers sig to the monitor process.
func (h *Harness) Signal(sig syscall.Signal) {
	h.t.Helper()
	if err := h.cmd.Process.Signal(sig); err != nil {
		h.t.Fatalf("signal %s: %v", sig, err)
	}
}

// Wait blocks until the process exits and returns its exit code.
func (h *Harness) Wait() int {
	h.t.Helper()
	select {
	case <-h.done:
	case <-time.After(settleTimeout):
		h.t.Fatalf("monitor did not exit within %s", settleTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) {
		return exitErr.ExitCode()
	}
	if h.err != nil {
		h.t.Fatalf("wait: %v", h.err)
	}
	return 0
}

// WriteSentinel writes the sentinel in one go, closing the file afterwards.
func (h *Harness) WriteSentinel(content string) {
	h.t.Helper()
	if err := os.WriteFile(h.SentinelPath(), []byte(content), 0644); err != nil {
		h.t.Fatalf("write sentinel: %v", err)
	}
}

// RemoveSentinel deletes the source sentinel.
func (h *Harness) RemoveSentinel() {
	h.t.Helper()
	if err := os.Remove(h.SentinelPath()); err != nil {
		h.t.Fatalf("remove sentinel: %v", err)
	}
}

// Eventually polls cond until it holds or the settle timeout expires.
func (h *Harness) Eventually(desc string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	h.t.Fatalf("timed out waiting for %s", desc)
}

// WaitForLog waits until the monitor output contains substr.
func (h *Harness) WaitForLog(substr string) {
	h.t.Helper()
	h.Eventually(fmt.Sprintf("log %q", substr), func() bool {
		return strings.Contains(h.output.String(), substr)
	})
}

// Output returns everything the monitor has written so far.
func (h *Harness) Output() string {
	return h.output.String()
}

// syncBuffer is a bytes.Buffer safe for the writer goroutine of exec.Cmd.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
