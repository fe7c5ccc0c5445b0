//go:build linux

package watch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CLOSE_WRITE | unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF

type inotifyWatcher struct {
	file *os.File
	buf  []byte
}

func newInotify(dir string) (Watcher, error) {
	// Non-blocking so the runtime poller owns the descriptor and Close
	// unblocks a pending Read.
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to set up inotify: %w", err)
	}

	if _, err := unix.InotifyAddWatch(fd, dir, inotifyMask); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to add inotify watch on %s: %w", dir, err)
	}

	return &inotifyWatcher{
		file: os.NewFile(uintptr(fd), "inotify"),
		buf:  make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1)),
	}, nil
}

func (w *inotifyWatcher) Next() ([]Event, error) {
	n, err := w.file.Read(w.buf)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to read inotify events: %w", err)
	}
	return parseInotify(w.buf[:n])
}

func (w *inotifyWatcher) Close() error {
	return w.file.Close()
}

// parseInotify decodes a buffer of struct inotify_event records.
func parseInotify(buf []byte) ([]Event, error) {
	var events []Event
	for off := 0; off < len(buf); {
		if len(buf)-off < unix.SizeofInotifyEvent {
			return events, fmt.Errorf("short inotify event: %d bytes", len(buf)-off)
		}
		mask := binary.NativeEndian.Uint32(buf[off+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))

		start := off + unix.SizeofInotifyEvent
		if start+nameLen > len(buf) {
			return events, fmt.Errorf("truncated inotify event name: want %d bytes, have %d", nameLen, len(buf)-start)
		}
		name := string(bytes.TrimRight(buf[start:start+nameLen], "\x00"))

		events = append(events, Event{Kind: kindFromMask(mask), Name: name})
		off = start + nameLen
	}
	return events, nil
}

func kindFromMask(mask uint32) Kind {
	switch {
	case mask&unix.IN_Q_OVERFLOW != 0:
		return KindOverflow
	case mask&unix.IN_DELETE_SELF != 0:
		return KindSelfDeleted
	case mask&unix.IN_MOVE_SELF != 0:
		return KindSelfMoved
	case mask&unix.IN_CLOSE_WRITE != 0:
		return KindWriteCompleted
	case mask&unix.IN_DELETE != 0:
		return KindDeleted
	default:
		return KindOther
	}
}
