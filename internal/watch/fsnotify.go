package watch

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyWatcher adapts fsnotify to Watcher. fsnotify has no portable
// close-after-write event, so every Write is reported as KindWriteCompleted.
type fsnotifyWatcher struct {
	w   *fsnotify.Watcher
	dir string
}

func newFsnotify(dir string) (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		// Close the watcher so that we release its file handles.
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &fsnotifyWatcher{w: w, dir: filepath.Clean(dir)}, nil
}

func (w *fsnotifyWatcher) Next() ([]Event, error) {
	select {
	case ev, ok := <-w.w.Events:
		if !ok {
			return nil, ErrClosed
		}
		return []Event{w.translate(ev)}, nil

	case err, ok := <-w.w.Errors:
		if !ok {
			return nil, ErrClosed
		}
		if errors.Is(err, fsnotify.ErrEventOverflow) {
			return []Event{{Kind: KindOverflow}}, nil
		}
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
}

func (w *fsnotifyWatcher) Close() error {
	return w.w.Close()
}

func (w *fsnotifyWatcher) translate(ev fsnotify.Event) Event {
	path := filepath.Clean(ev.Name)
	if path == w.dir {
		switch {
		case ev.Has(fsnotify.Remove):
			return Event{Kind: KindSelfDeleted}
		case ev.Has(fsnotify.Rename):
			return Event{Kind: KindSelfMoved}
		default:
			return Event{Kind: KindOther}
		}
	}

	name := filepath.Base(path)
	switch {
	case ev.Has(fsnotify.Write):
		return Event{Kind: KindWriteCompleted, Name: name}
	case ev.Has(fsnotify.Remove):
		return Event{Kind: KindDeleted, Name: name}
	default:
		return Event{Kind: KindOther, Name: name}
	}
}
