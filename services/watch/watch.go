package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/services/index"
)

const defaultDebounce = 5 * time.Second

// Trigger starts an indexing run.
type Trigger interface {
	Start(ctx context.Context, rc index.RunContext) (string, error)
}

type Options struct {
	Debounce   time.Duration
	Extensions []string
	// SkipHidden ignores dotfiles and dot-directories, matching the indexer.
	SkipHidden bool
	Clock      clock.Clock
}

// Watcher re-runs indexing once the source tree has been quiet for the
// debounce window.
type Watcher struct {
	logger     logger.Logger
	trigger    Trigger
	rc         index.RunContext
	clock      clock.Clock
	debounce   time.Duration
	extensions []string
	skipHidden bool
	indexDir   string

	mu    sync.Mutex
	ctx   context.Context
	timer clock.Timer
	// seq identifies the latest scheduled timer; a stale one that already
	// fired must not start a run.
	seq uint64
}

func New(logger logger.Logger, trigger Trigger, rc index.RunContext, options Options) *Watcher {
	if options.Debounce <= 0 {
		options.Debounce = defaultDebounce
	}
	if options.Clock == nil {
		options.Clock = clock.WallClock
	}

	extensions := make([]string, 0, len(options.Extensions))
	for _, ext := range options.Extensions {
		extensions = append(extensions, strings.ToLower(ext))
	}

	return &Watcher{
		logger:     logger,
		trigger:    trigger,
		rc:         rc,
		clock:      options.Clock,
		debounce:   options.Debounce,
		extensions: extensions,
		skipHidden: options.SkipHidden,
		indexDir:   searchdb.IndexDir(rc.CatalogPath),
		ctx:        context.Background(),
	}
}

// Run watches the source tree until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsWatcher.Close()

	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()
	defer w.stop()

	if err := w.addRecursive(fsWatcher, w.rc.SourcePath); err != nil {
		return err
	}
	w.logger.Info("watching source for changes", "source_path", w.rc.SourcePath, "debounce", w.debounce.String())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fsWatcher, event.Name); err != nil {
						w.logger.Warn("could not watch new directory", "path", event.Name, "err", err.Error())
					}
				}
			}
			w.handle(event)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "err", err.Error())
		}
	}
}

func (w *Watcher) addRecursive(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipHidden && path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fsWatcher.Add(path); err != nil {
			w.logger.Warn("could not watch directory", "path", path, "err", err.Error())
		}
		return nil
	})
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || w.ignored(event.Name) {
		return
	}
	if w.skipHidden && strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	if ext := strings.ToLower(filepath.Ext(event.Name)); ext != "" && len(w.extensions) > 0 && !slices.Contains(w.extensions, ext) {
		return
	}

	w.logger.Debug("source changed", "path", event.Name, "op", event.Op.String())
	w.schedule()
}

// ignored reports paths the indexer itself writes to, so a catalog inside
// the source tree does not retrigger itself.
func (w *Watcher) ignored(path string) bool {
	return strings.HasPrefix(path, w.indexDir)
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.seq++
	seq := w.seq
	w.timer = w.clock.AfterFunc(w.debounce, func() { w.fire(seq) })
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.seq++
}

func (w *Watcher) fire(seq uint64) {
	w.mu.Lock()
	if seq != w.seq {
		w.mu.Unlock()
		return
	}
	ctx := w.ctx
	w.timer = nil
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	runID, err := w.trigger.Start(ctx, w.rc)
	switch {
	case errors.Is(err, index.ErrBusy):
		w.logger.Info("source changed during a run, retrying after debounce", "catalog_path", w.rc.CatalogPath)
		w.schedule()
	case err != nil:
		w.logger.Error("could not start indexing after source change", "catalog_path", w.rc.CatalogPath, "err", err.Error())
	default:
		w.logger.Info("started indexing after source change", "run_id", runID, "catalog_path", w.rc.CatalogPath)
	}
}
