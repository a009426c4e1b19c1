package discover

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jupierce/lcov-import/pkg/log"
)

// Handlers receive watcher notifications. Changed gets the debounced set of
// matching reports that were created or written; Removed is called once per
// matching report that was deleted or renamed away.
type Handlers struct {
	Changed func(paths []string)
	Removed func(path string)
}

// Watcher watches a workspace root for matching coverage reports
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	matcher   *Matcher
	debounce  time.Duration
	handlers  Handlers
	logger    *log.Logger

	callbackMu sync.Mutex

	pending   map[string]struct{}
	pendingMu sync.Mutex
	timer     *time.Timer

	started bool
	done    chan struct{}
}

// NewWatcher creates a watcher for reports under root matching m
func NewWatcher(root string, m *Matcher, debounce time.Duration, handlers Handlers, logger *log.Logger) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      root,
		matcher:   m,
		debounce:  debounce,
		handlers:  handlers,
		logger:    logger,
		pending:   make(map[string]struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start registers the directory tree and begins delivering events
func (w *Watcher) Start() error {
	if err := w.watchRecursive(w.root); err != nil {
		return err
	}
	w.started = true
	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(p)
	})
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warning("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if skipDir(filepath.Base(event.Name)) {
				return
			}
			if err := w.watchRecursive(event.Name); err != nil {
				w.logger.Warning("Failed to watch new directory %s: %v", event.Name, err)
				return
			}
			w.enqueueExisting(event.Name)
			return
		}
	}

	if !w.matches(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.logger.Debug("Report removed: %s", event.Name)
		w.dropPending(event.Name)
		if w.handlers.Removed != nil {
			w.callbackMu.Lock()
			w.handlers.Removed(event.Name)
			w.callbackMu.Unlock()
		}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.logger.Trace("Report changed: %s", event.Name)
		w.scheduleChange(event.Name)
	}
}

func (w *Watcher) matches(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	return w.matcher.Match(rel, p)
}

func (w *Watcher) scheduleChange(p string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[p] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) dropPending(p string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	delete(w.pending, p)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(paths) == 0 || w.handlers.Changed == nil {
		return
	}
	sort.Strings(paths)

	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.handlers.Changed(paths)
}

func (w *Watcher) enqueueExisting(root string) {
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.matches(p) {
			w.scheduleChange(p)
		}
		return nil
	})
}

// Close stops watching and waits for the event loop to exit
func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()

	err := w.fsWatcher.Close()
	if w.started {
		<-w.done
	}
	return err
}
