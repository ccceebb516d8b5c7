package fsstore

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/corestash/corestash/internal/event"
)

// Watcher re-emits filesystem mutations under a Store's root, so
// in-process listeners see changes made by other processes sharing it.
// Every *.metadata create or write becomes a StoreSetEvent (a write to
// an existing key is not reported as StoreUpdateEvent) and every remove
// or rename a StoreDeleteEvent with nil metadata. Changes made through
// this process's own Store are re-emitted too. Optional: a Store works
// fine with no Watcher attached.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts a goroutine watching s.root for *.metadata create/write/
// remove events. The returned Watcher must be closed to stop it.
func Watch(s *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(s.root); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{store: s, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// handle only reacts to *.metadata files: a Set always touches the
// metadata file, and Delete removes it, so it alone is enough to
// detect every mutation without double-firing on the paired .data file.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".metadata") {
		return
	}
	if w.store.Bus == nil {
		return
	}
	key := strings.TrimSuffix(filepath.Base(ev.Name), ".metadata")

	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		w.store.Bus.Emit(event.NewStoreDeleteEvent(w.store.Source, key, nil), false)
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		md, err := w.store.readMetadata(key)
		if err != nil {
			return
		}
		w.store.Bus.Emit(event.NewStoreSetEvent(w.store.Source, key, md), false)
	}
}

// Close stops the watcher goroutine and releases the underlying OS
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
