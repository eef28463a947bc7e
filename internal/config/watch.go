package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher wraps an fsnotify.Watcher scoped to a single config file. The
// teacher's go.mod carries fsnotify and internal/worker/service.go
// references a *watcher.Watcher field, but the package itself is absent
// from the retrieved pack — rebuilt here against the dependency directly.
type watcher struct {
	fsw *fsnotify.Watcher
	done chan struct{}
}

func newWatcher(path string, onChange func()) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &watcher{fsw: fsw, done: make(chan struct{})}
	go w.loop(path, onChange)
	return w, nil
}

func (w *watcher) loop(path string, onChange func()) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watch goroutine and releases the underlying fsnotify handle.
func (w *watcher) Close() {
	close(w.done)
	w.fsw.Close()
}

