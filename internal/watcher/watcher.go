// Package watcher keeps the in-memory indexes in sync with the image root:
// one watched directory per project, with debounced file events.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/library"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches the image root and every project directory beneath it.
// A file event maps through the library to (project, identifier) before the
// callbacks fire. Writes are debounced per path so a file being copied in
// triggers a single index pass once it settles.
type Watcher struct {
	lib      *library.Library
	onIndex  func(project, identifier string)
	onRemove func(project, identifier string)
	debounce time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	started     bool
	done        chan struct{}
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the settle delay before a written file is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over the library. onIndex fires for created or
// modified images, onRemove for deleted ones.
func New(lib *library.Library, onIndex, onRemove func(project, identifier string), opts ...Option) *Watcher {
	w := &Watcher{
		lib:         lib,
		onIndex:     onIndex,
		onRemove:    onRemove,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the image root and all existing project directories.
// It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.lib.Root()); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	projects, err := w.lib.Projects()
	if err != nil {
		w.Stop()
		return err
	}
	for _, project := range projects {
		if err := watcher.Add(filepath.Join(w.lib.Root(), project)); err != nil && w.logger != nil {
			w.logger.Debug("watcher failed to add project directory",
				zap.String("project", project), zap.Error(err))
		}
	}
	if w.logger != nil {
		w.logger.Debug("watcher started",
			zap.String("root", w.lib.Root()),
			zap.Int("projects", len(projects)))
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewProject(path)
			return
		}
		if w.lib.IsImageFile(path) {
			w.debounceIndex(path)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if !w.lib.IsImageFile(path) {
			return
		}
		if project, identifier, ok := w.lib.SplitPath(path); ok && w.onRemove != nil {
			w.onRemove(project, identifier)
		}
	}
}

// handleNewProject watches a directory created directly under the root and
// indexes any images already inside it (a project moved in wholesale).
func (w *Watcher) handleNewProject(dirPath string) {
	if filepath.Dir(filepath.Clean(dirPath)) != filepath.Clean(w.lib.Root()) {
		return
	}
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	if err := watcher.Add(dirPath); err != nil {
		if w.logger != nil {
			w.logger.Debug("watcher failed to add project directory",
				zap.String("path", dirPath), zap.Error(err))
		}
		return
	}

	project := filepath.Base(dirPath)
	images, err := w.lib.Images(project)
	if err != nil {
		return
	}
	for _, name := range images {
		w.debounceIndex(filepath.Join(dirPath, name))
	}
}

func (w *Watcher) debounceIndex(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		project, identifier, ok := w.lib.SplitPath(path)
		if !ok {
			return
		}
		if w.logger != nil {
			w.logger.Debug("watcher indexing image (debounced)",
				zap.String("project", project), zap.String("identifier", identifier))
		}
		if w.onIndex != nil {
			w.onIndex(project, identifier)
		}
	})
	w.debounceMap[path] = t
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
