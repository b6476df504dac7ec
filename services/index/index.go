package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/meghashyamc/doccatalog/config"
	"github.com/meghashyamc/doccatalog/db/kvdb"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"golang.org/x/sync/errgroup"
)

// Extractor turns a file into searchable text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Catalogs hands out the shared index handle for a catalog root.
type Catalogs interface {
	Acquire(catalogRoot string, create bool) (*searchdb.BleveDB, error)
}

const (
	defaultWorkers       = 4
	persistProgressEvery = 100
	lockFileSuffix       = ".lock"
)

type Options struct {
	Extensions []string
	Workers    int
	// PruneMissing removes documents whose file no longer exists under the
	// source root, in the same commit as the run's upserts.
	PruneMissing bool
	// SkipHidden leaves dotfiles and dot-directories out of every run.
	SkipHidden bool
	Clock      clock.Clock
	Events     *Broadcaster
}

// RunContext carries the paths of one indexing run.
type RunContext struct {
	CatalogPath string
	SourcePath  string
}

type Service struct {
	logger        logger.Logger
	extractor     Extractor
	catalogs      Catalogs
	metadataStore MetadataStore
	scanner       *Scanner
	clock         clock.Clock
	events        *Broadcaster
	options       Options

	busy    atomic.Bool
	stateMu sync.RWMutex
	state   State

	buildIndexC chan indexRequest
	stopped     chan struct{}
}

type indexRequest struct {
	rc     RunContext
	record kvdb.RunRecord
	lock   *flock.Flock
}

// run is the worker's view of the run in progress; only the worker goroutine touches it.
type run struct {
	rc       RunContext
	record   kvdb.RunRecord
	counters Counters
	current  int
}

func New(ctx context.Context, logger logger.Logger, extractor Extractor, catalogs Catalogs, metadataStore MetadataStore, options Options) *Service {
	if options.Workers <= 0 {
		options.Workers = defaultWorkers
	}
	if options.Clock == nil {
		options.Clock = clock.WallClock
	}
	if len(options.Extensions) == 0 {
		options.Extensions = config.DefaultExtensions
	}
	if options.Events == nil {
		options.Events = NewBroadcaster(defaultSubscriberBuffer)
	}

	indexService := &Service{
		logger:        logger,
		extractor:     extractor,
		catalogs:      catalogs,
		metadataStore: metadataStore,
		scanner:       NewScanner(logger, options.Extensions, options.SkipHidden),
		clock:         options.Clock,
		events:        options.Events,
		options:       options,
		state:         StateIdle,
		buildIndexC:   make(chan indexRequest),
		stopped:       make(chan struct{}),
	}

	go indexService.build(ctx)
	return indexService
}

// Start validates rc and hands the run to the background worker. A trigger
// while another run is active is refused with ErrBusy; it is never queued.
func (s *Service) Start(ctx context.Context, rc RunContext) (string, error) {
	rc, err := rc.validate()
	if err != nil {
		s.logger.Warn("rejected indexing request", "err", err.Error())
		return "", err
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.rejectBusy(rc)
		return "", ErrBusy
	}

	lock, err := s.lockCatalog(rc.CatalogPath)
	if err != nil {
		s.busy.Store(false)
		if errors.Is(err, ErrBusy) {
			s.rejectBusy(rc)
		}
		return "", err
	}

	record := kvdb.RunRecord{
		ID:          uuid.New().String(),
		CatalogPath: rc.CatalogPath,
		SourcePath:  rc.SourcePath,
		State:       string(StateIdle),
		StartedAt:   s.clock.Now().UTC(),
	}
	s.saveRun(record)
	s.setLastRun(rc.CatalogPath, record.ID)

	select {
	// This leads to s.buildIndex being called
	case s.buildIndexC <- indexRequest{rc: rc, record: record, lock: lock}:
		return record.ID, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.stopped:
		err = errors.New("index service stopped")
	}

	s.releaseLock(lock)
	record.State = string(StateFailed)
	record.Progress = ProgressStatusFailed
	record.Error = err.Error()
	record.FinishedAt = s.clock.Now().UTC()
	s.saveRun(record)
	s.busy.Store(false)
	return "", err
}

// Status returns the persisted record of a run.
func (s *Service) Status(runID string) (*kvdb.RunRecord, error) {
	return s.getRun(runID)
}

// LastRun returns the most recent run started for a catalog.
func (s *Service) LastRun(catalogPath string) (*kvdb.RunRecord, error) {
	absCatalog, err := filepath.Abs(catalogPath)
	if err != nil {
		return nil, err
	}
	runID, err := s.getLastRunID(absCatalog)
	if err != nil {
		return nil, err
	}
	return s.getRun(runID)
}

// Runs returns the run history, newest first.
func (s *Service) Runs() ([]kvdb.RunRecord, error) {
	return s.listRuns()
}

func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// Done is closed once the worker has exited after its context was cancelled.
func (s *Service) Done() <-chan struct{} {
	return s.stopped
}

func (s *Service) Busy() bool {
	return s.busy.Load()
}

func (s *Service) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (rc RunContext) validate() (RunContext, error) {
	var result *multierror.Error

	if strings.TrimSpace(rc.CatalogPath) == "" {
		result = multierror.Append(result, &ConfigurationError{Field: "catalog_path", Reason: "path is required"})
	} else if absPath, err := filepath.Abs(rc.CatalogPath); err != nil {
		result = multierror.Append(result, &ConfigurationError{Field: "catalog_path", Reason: err.Error()})
	} else {
		rc.CatalogPath = absPath
		if info, err := os.Stat(absPath); err == nil && !info.IsDir() {
			result = multierror.Append(result, &ConfigurationError{Field: "catalog_path", Reason: "not a directory"})
		}
	}

	if strings.TrimSpace(rc.SourcePath) == "" {
		result = multierror.Append(result, &ConfigurationError{Field: "source_path", Reason: "path is required"})
	} else if absPath, err := filepath.Abs(rc.SourcePath); err != nil {
		result = multierror.Append(result, &ConfigurationError{Field: "source_path", Reason: err.Error()})
	} else {
		rc.SourcePath = absPath
		info, err := os.Stat(absPath)
		switch {
		case err != nil:
			result = multierror.Append(result, &ConfigurationError{Field: "source_path", Reason: "does not exist or is not readable"})
		case !info.IsDir():
			result = multierror.Append(result, &ConfigurationError{Field: "source_path", Reason: "not a directory"})
		}
	}

	return rc, result.ErrorOrNil()
}

// lockCatalog takes the cross-process writer lock that sits next to the index.
func (s *Service) lockCatalog(catalogPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(catalogPath, 0755); err != nil {
		s.logger.Error("failed to create catalog directory", "catalog_path", catalogPath, "err", err.Error())
		return nil, &searchdb.IndexIOError{Op: "lock", Location: catalogPath, Err: err}
	}

	lock := flock.New(searchdb.IndexDir(catalogPath) + lockFileSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		s.logger.Error("failed to lock catalog", "catalog_path", catalogPath, "err", err.Error())
		return nil, &searchdb.IndexIOError{Op: "lock", Location: catalogPath, Err: err}
	}
	if !locked {
		s.logger.Warn("catalog is being indexed by another process", "catalog_path", catalogPath)
		return nil, ErrBusy
	}

	return lock, nil
}

func (s *Service) releaseLock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		s.logger.Error("failed to release catalog lock", "path", lock.Path(), "err", err.Error())
	}
}

func (s *Service) rejectBusy(rc RunContext) {
	s.logger.Warn("request to index while indexing is already in progress", "catalog_path", rc.CatalogPath)
	s.events.Publish(Event{Type: EventBusy, State: s.State(), Error: ErrBusy.Error(), Time: s.clock.Now().UTC()})
}

func (s *Service) build(ctx context.Context) {
	defer close(s.stopped)

	for {
		select {
		case req := <-s.buildIndexC:
			s.buildIndex(ctx, req)
		case <-ctx.Done():
			s.logger.Info("index service stopped", "reason", ctx.Err())
			return
		}
	}
}

func (s *Service) buildIndex(ctx context.Context, req indexRequest) {
	r := &run{rc: req.rc, record: req.record}

	err := s.doBuildIndex(ctx, r)

	r.record.FinishedAt = s.clock.Now().UTC()
	s.copyCounters(r)

	terminal := Event{
		RunID:    r.record.ID,
		Current:  r.counters.Processed,
		Total:    r.counters.Processed,
		Counters: r.counters,
		Time:     r.record.FinishedAt,
	}

	if err != nil {
		s.logger.Error("indexing run failed", "run_id", r.record.ID, "catalog_path", r.rc.CatalogPath, "err", err.Error())
		r.record.State = string(StateFailed)
		r.record.Progress = ProgressStatusFailed
		r.record.Error = err.Error()
		terminal.Type, terminal.State, terminal.Progress, terminal.Error = EventFailed, StateFailed, ProgressStatusFailed, err.Error()
		s.setState(StateFailed)
	} else {
		s.logger.Info("indexing run completed", "run_id", r.record.ID,
			slog.Int("processed", r.counters.Processed), slog.Int("updated", r.counters.Updated),
			slog.Int("skipped", r.counters.Skipped), slog.Int("failed", r.counters.Failed), slog.Int("removed", r.counters.Removed))
		r.record.State = string(StateCompleted)
		r.record.Progress = ProgressStatusComplete
		terminal.Type, terminal.State, terminal.Progress = EventCompleted, StateIdle, ProgressStatusComplete
		s.setState(StateIdle)
	}

	s.releaseLock(req.lock)
	// cleared before the record is marked finished and the terminal event goes
	// out, so whoever observes either can trigger the next run right away
	s.busy.Store(false)
	s.saveRun(r.record)
	s.pruneRunHistory()
	s.events.Publish(terminal)
}

func (s *Service) doBuildIndex(ctx context.Context, r *run) error {
	s.transition(r, StateScanning, 0)

	db, err := s.catalogs.Acquire(r.rc.CatalogPath, true)
	if err != nil {
		return err
	}

	snapshot, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("performing incremental indexing", "run_id", r.record.ID, "source_path", r.rc.SourcePath, "indexed_documents", len(snapshot))
	scan, err := s.scanner.Scan(ctx, r.rc.SourcePath, snapshot, searchdb.IndexDir(r.rc.CatalogPath))
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", r.rc.SourcePath, err)
	}
	r.counters.Processed = scan.Processed
	r.counters.Skipped = scan.Skipped
	r.current = scan.Skipped
	s.logger.Info("discovered modified files", "run_id", r.record.ID, slog.Int("num_of_files", len(scan.Stale)), slog.Int("unchanged", scan.Skipped))

	writer, err := db.BeginWrite()
	if err != nil {
		return err
	}
	// no-op once committed
	defer writer.Discard()

	s.transition(r, StateExtracting, ProgressStatusScanned)
	if err := s.updateIndex(ctx, r, writer, scan.Stale); err != nil {
		return err
	}

	if s.options.PruneMissing {
		if err := s.pruneMissing(r, writer, snapshot, scan.Seen); err != nil {
			return err
		}
	}

	s.transition(r, StateCommitting, ProgressStatusCommitting)
	s.logger.Info("committing index batch", "run_id", r.record.ID, "staged_operations", writer.Pending())
	if err := writer.Commit(); err != nil {
		return err
	}

	return nil
}

type extracted struct {
	file FileInfo
	text string
	err  error
}

// updateIndex extracts stale files in parallel and upserts them one at a
// time on the run's single writer.
func (s *Service) updateIndex(ctx context.Context, r *run, writer *searchdb.Writer, stale []FileInfo) error {
	if len(stale) == 0 {
		s.logger.Info("no files to index", "run_id", r.record.ID)
		return nil
	}

	extractCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan extracted)
	var extractErr error
	go func() {
		group, groupCtx := errgroup.WithContext(extractCtx)
		group.SetLimit(s.options.Workers)
		for _, file := range stale {
			if groupCtx.Err() != nil {
				break
			}
			group.Go(func() error {
				text, err := s.extractor.Extract(groupCtx, file.Path)
				select {
				case results <- extracted{file: file, text: text, err: err}:
					return nil
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			})
		}
		extractErr = group.Wait()
		close(results)
	}()

	var fatalErr error
	done := 0
	for result := range results {
		done++
		if fatalErr != nil {
			continue
		}

		if result.err != nil || strings.TrimSpace(result.text) == "" {
			if result.err == nil {
				s.logger.Debug("file has no extractable content", "path", result.file.Path)
			}
			r.counters.Failed++
		} else {
			err := writer.Upsert(searchdb.Document{
				Title:     result.file.Name,
				Path:      result.file.Path,
				Content:   result.text,
				Size:      result.file.Size,
				ModTime:   result.file.ModTime,
				Extension: result.file.Extension,
			})
			if err != nil {
				fatalErr = err
				cancel()
				continue
			}
			r.counters.Updated++
		}

		r.current++
		s.progress(r, StateUpdating, getProgressPercentage(done, len(stale), ProgressStatusExtracting, ProgressStatusCommitting-1), done%persistProgressEvery == 0)
	}

	if fatalErr != nil {
		return fatalErr
	}
	if extractErr != nil {
		return extractErr
	}
	return ctx.Err()
}

// pruneMissing deletes documents under the source root whose file is gone.
func (s *Service) pruneMissing(r *run, writer *searchdb.Writer, snapshot map[string]time.Time, seen map[string]struct{}) error {
	for path := range snapshot {
		if _, ok := seen[path]; ok {
			continue
		}
		if !isUnder(path, r.rc.SourcePath) {
			continue
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := writer.Delete(path); err != nil {
			return err
		}
		r.counters.Removed++
	}

	if r.counters.Removed > 0 {
		s.logger.Info("removing deleted files from index", "run_id", r.record.ID, "deleted_files", r.counters.Removed)
	}
	return nil
}

func isUnder(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Service) transition(r *run, state State, progress int) {
	s.progress(r, state, progress, true)
}

func (s *Service) progress(r *run, state State, progress int, persist bool) {
	s.setState(state)
	r.record.State = string(state)
	r.record.Progress = progress
	s.copyCounters(r)

	if persist {
		s.saveRun(r.record)
	}

	s.events.Publish(Event{
		Type:     EventProgress,
		RunID:    r.record.ID,
		State:    state,
		Current:  r.current,
		Total:    r.counters.Processed,
		Progress: progress,
		Counters: r.counters,
		Time:     s.clock.Now().UTC(),
	})
}

func (s *Service) copyCounters(r *run) {
	r.record.Processed = r.counters.Processed
	r.record.Updated = r.counters.Updated
	r.record.Skipped = r.counters.Skipped
	r.record.Failed = r.counters.Failed
	r.record.Removed = r.counters.Removed
}
