package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads an options file when it changes on disk and hands each
// successfully parsed result to a callback. Parse failures leave the last
// good options in effect.
type Watcher struct {
	path     string
	onReload func(Options)
	onError  func(error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for the given options file. onReload is
// invoked for every successful reload; onError (optional) for every failed
// one.
func NewWatcher(path string, onReload func(Options), onError func(error)) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		onError:  onError,
	}
}

// Start begins watching. The containing directory is watched rather than
// the file itself so editors that replace the file atomically keep the
// watch alive.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return ErrWatcherAlreadyStarted
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.run(watcher, w.done)
	return nil
}

// Stop ends the watch. Stopping a watcher that is not running returns
// ErrWatcherNotStarted.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return ErrWatcherNotStarted
	}
	err := w.watcher.Close()
	<-w.done
	w.watcher = nil
	return err
}

func (w *Watcher) run(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			options, err := LoadFile(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.onReload(options)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}
