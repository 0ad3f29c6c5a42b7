// Package watcher reruns a conversion whenever the source bundle changes on
// disk. Events are debounced so a multi-file save (bundle JSON plus assets)
// triggers one reconversion, not one per file.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a model source path and fires a callback after changes
// settle.
type Watcher struct {
	sourcePath string
	fsWatcher  *fsnotify.Watcher

	debounceDelay time.Duration
	pending       map[string]struct{}
	pendingMu     sync.Mutex
	debounceTimer *time.Timer

	onChange func(paths []string)
	onError  func(error)

	done chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle delay before the change callback fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounceDelay = d }
}

// WithOnChange sets the callback receiving the changed paths, sorted.
func WithOnChange(fn func(paths []string)) Option {
	return func(w *Watcher) { w.onChange = fn }
}

// WithOnError sets the callback for watch errors.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New creates a Watcher over sourcePath, which may be a bundle directory or a
// single frozen-graph file.
func New(sourcePath string, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	w := &Watcher{
		sourcePath:    sourcePath,
		fsWatcher:     fsWatcher,
		debounceDelay: 500 * time.Millisecond,
		pending:       make(map[string]struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addPaths(); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watcher: %w", err)
	}
	return w, nil
}

// addPaths registers the source with fsnotify. Directories are walked so
// nested asset and variable directories are covered; a file source watches
// its parent directory, since editors replace files by rename.
func (w *Watcher) addPaths() error {
	info, err := os.Stat(w.sourcePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsWatcher.Add(filepath.Dir(w.sourcePath))
	}
	return filepath.Walk(w.sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && path != w.sourcePath {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Start begins delivering events. Stop must be called to release the watch.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Stop stops the watcher and closes the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}
	// A file source only cares about itself; the parent directory watch
	// sees sibling churn too.
	if info, err := os.Stat(w.sourcePath); err == nil && !info.IsDir() {
		if event.Name != w.sourcePath {
			return
		}
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsWatcher.Add(event.Name)
		}
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending[event.Name] = struct{}{}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.fire)
}

func (w *Watcher) fire() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 || w.onChange == nil {
		return
	}
	sort.Strings(paths)
	w.onChange(paths)
}
