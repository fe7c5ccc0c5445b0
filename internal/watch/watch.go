// Package watch delivers filesystem change notifications for a single
// directory as ordered batches of events.
package watch

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an observed filesystem event.
type Kind int

const (
	// KindOther is any event the monitor does not act upon.
	KindOther Kind = iota
	// KindWriteCompleted means a child file opened for writing was closed.
	KindWriteCompleted
	// KindDeleted means a child entry was deleted.
	KindDeleted
	// KindSelfDeleted means the watched directory itself was deleted.
	KindSelfDeleted
	// KindSelfMoved means the watched directory itself was renamed away.
	KindSelfMoved
	// KindOverflow means the kernel queue overflowed and events were lost.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindWriteCompleted:
		return "write-completed"
	case KindDeleted:
		return "deleted"
	case KindSelfDeleted:
		return "self-deleted"
	case KindSelfMoved:
		return "self-moved"
	case KindOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single change notification. Name is the affected child entry
// relative to the watched directory, empty for events on the directory itself.
type Event struct {
	Kind Kind
	Name string
}

// Watcher produces ordered batches of events for one directory.
type Watcher interface {
	// Next blocks until at least one event is available.
	Next() ([]Event, error)
	// Close releases the watch; a blocked Next returns ErrClosed.
	Close() error
}

// ErrClosed is returned by Next after the watcher was closed.
var ErrClosed = errors.New("watcher closed")

// Backend selects the notification mechanism.
type Backend string

const (
	// BackendInotify uses raw inotify and reports true close-after-write events.
	BackendInotify Backend = "inotify"
	// BackendFsnotify uses fsnotify and treats every write as completed.
	BackendFsnotify Backend = "fsnotify"
)

// DefaultBackend returns inotify on Linux and fsnotify elsewhere.
func DefaultBackend() Backend {
	if runtime.GOOS == "linux" {
		return BackendInotify
	}
	return BackendFsnotify
}

// ParseBackend validates a backend name; an empty name selects the default.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "":
		return DefaultBackend(), nil
	case BackendInotify, BackendFsnotify:
		return Backend(name), nil
	default:
		return "", fmt.Errorf("unknown watch backend %q (must be inotify or fsnotify)", name)
	}
}

// New starts watching dir for child writes, child deletions and removal or
// rename of dir itself.
func New(backend Backend, dir string) (Watcher, error) {
	switch backend {
	case BackendInotify:
		return newInotify(dir)
	case BackendFsnotify:
		return newFsnotify(dir)
	default:
		return nil, fmt.Errorf("unknown watch backend %q", backend)
	}
}
