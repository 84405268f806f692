package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sahilchouksey/study-ingest/utils"
)

// DropHandler is called once for every file that settles in a course folder
type DropHandler func(ctx context.Context, courseID, filename string, size int64) error

// Watcher turns files dropped into <root>/<courseId>/ into ingestion tasks
type Watcher struct {
	root    string
	settle  time.Duration
	handler DropHandler
	log     *utils.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher; settle is how long a file must stay
// untouched before it is handed off
func NewWatcher(root string, settle time.Duration, handler DropHandler, log *utils.Logger) *Watcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watcher{
		root:    root,
		settle:  settle,
		handler: handler,
		log:     log.With("component", "drop-watcher"),
		pending: make(map[string]*time.Timer),
	}
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(w.root, e.Name())); err != nil {
				return err
			}
		}
	}
	w.log.Info("watching drop folder", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, ev)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	if info.IsDir() {
		if len(parts) == 1 {
			if err := fw.Add(ev.Name); err != nil {
				w.log.Warn("failed to watch course folder", "path", ev.Name, "error", err)
			}
		}
		return
	}
	if len(parts) != 2 || strings.HasPrefix(parts[1], ".") {
		return
	}

	w.schedule(ctx, ev.Name, parts[0], parts[1])
}

// schedule (re)starts the settle timer for a path
func (w *Watcher) schedule(ctx context.Context, path, courseID, filename string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if err := w.handler(ctx, courseID, filename, info.Size()); err != nil {
			w.log.Error("failed to hand off dropped file", "course_id", courseID, "filename", filename, "error", err)
			return
		}
		w.log.Info("dropped file queued", "course_id", courseID, "filename", filename, "size", info.Size())
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
