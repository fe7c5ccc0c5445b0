//go:build !linux

package watch

import "fmt"

func newInotify(dir string) (Watcher, error) {
	return nil, fmt.Errorf("inotify backend is only available on linux, use %q", BackendFsnotify)
}
