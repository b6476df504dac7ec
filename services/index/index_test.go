package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/gofrs/flock"
	"github.com/juju/clock/testclock"
	"github.com/meghashyamc/doccatalog/db/kvdb"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/stretchr/testify/require"
)

var testStartTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// fileExtractor returns a file's bytes as its text. Files whose name contains
// "corrupt" fail, and every call waits for gate when one is set.
type fileExtractor struct {
	gate chan struct{}
}

func (f *fileExtractor) Extract(ctx context.Context, path string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if strings.Contains(filepath.Base(path), "corrupt") {
		return "", errors.New("corrupt document")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type testEnv struct {
	service  *Service
	catalogs *searchdb.Catalogs
	store    *kvdb.BoltDB
	catalog  string
	source   string
}

func newTestEnv(t *testing.T, extractor Extractor, options Options) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store, err := kvdb.New(logger.NewDiscard(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	catalogs := searchdb.NewCatalogs(logger.NewDiscard())

	if options.Extensions == nil {
		options.Extensions = []string{".txt", ".md"}
	}
	if options.Clock == nil {
		options.Clock = testclock.NewClock(testStartTime)
	}
	options.Workers = 3

	env := &testEnv{
		service:  New(ctx, logger.NewDiscard(), extractor, catalogs, store, options),
		catalogs: catalogs,
		store:    store,
		catalog:  filepath.Join(t.TempDir(), "catalog"),
		source:   t.TempDir(),
	}

	t.Cleanup(func() {
		cancel()
		<-env.service.stopped
		catalogs.CloseAll()
		store.Close()
	})
	return env
}

func (e *testEnv) runContext() RunContext {
	return RunContext{CatalogPath: e.catalog, SourcePath: e.source}
}

// runToCompletion starts a run and waits for its terminal event.
func (e *testEnv) runToCompletion(t *testing.T) Event {
	t.Helper()
	events, cancel := e.service.Subscribe()
	defer cancel()

	runID, err := e.service.Start(context.Background(), e.runContext())
	require.NoError(t, err)

	event := waitForTerminal(t, events)
	require.Equal(t, runID, event.RunID)
	return event
}

func waitForTerminal(t *testing.T, events <-chan Event) Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Terminal() {
				return event
			}
		case <-timeout:
			t.Fatal("timed out waiting for the indexing run to finish")
		}
	}
}

func (e *testEnv) search(t *testing.T, term string) []searchdb.Result {
	t.Helper()
	db, err := e.catalogs.Acquire(e.catalog, false)
	require.NoError(t, err)

	q := bleve.NewWildcardQuery("*" + term + "*")
	q.SetField(searchdb.FieldContent)
	results, err := db.Search(context.Background(), q, searchdb.MaxHits)
	require.NoError(t, err)
	return results
}

func (e *testEnv) writeSource(t *testing.T, name string, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(e.source, name)
	writeTestFile(t, path, content, modTime)
	return path
}

func TestRerunWithoutChangesIsIdempotent(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	modTime := time.Unix(1700000000, 0)

	env.writeSource(t, "a.txt", "alpha document", modTime)
	env.writeSource(t, "docs/b.md", "beta document", modTime)
	env.writeSource(t, "docs/nested/c.txt", "gamma document", modTime)
	env.writeSource(t, "ignored.bin", "not a candidate", modTime)

	first := env.runToCompletion(t)
	assert.Equal(EventCompleted, first.Type)
	assert.Equal(Counters{Processed: 3, Updated: 3}, first.Counters)

	second := env.runToCompletion(t)
	assert.Equal(EventCompleted, second.Type)
	assert.Equal(Counters{Processed: 3, Skipped: 3}, second.Counters)

	assert.Len(env.search(t, "document"), 3)
	assert.Equal(StateIdle, env.service.State())
	assert.False(env.service.Busy())
}

func TestChangedFileIsReplacedExactlyOnce(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	modTime := time.Unix(1700000000, 0)

	path := env.writeSource(t, "report.txt", "first draft oldword", modTime)
	env.runToCompletion(t)

	writeTestFile(t, path, "final version newword", modTime.Add(time.Minute))
	event := env.runToCompletion(t)
	assert.Equal(Counters{Processed: 1, Updated: 1}, event.Counters)

	db, err := env.catalogs.Acquire(env.catalog, false)
	assert.NoError(err)
	count, err := db.GetDocCount()
	assert.NoError(err)
	assert.Equal(uint64(1), count)

	assert.Empty(env.search(t, "oldword"))
	results := env.search(t, "newword")
	assert.Len(results, 1)
	assert.Equal(path, results[0].Path)
	assert.True(results[0].ModTime.Equal(modTime.Add(time.Minute)))
}

func TestCorruptFileIsContained(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	modTime := time.Unix(1700000000, 0)

	for _, name := range []string{"one.txt", "two.txt", "three.txt", "four.txt"} {
		env.writeSource(t, name, "valid content "+name, modTime)
	}
	env.writeSource(t, "corrupt.txt", "valid content but unreadable", modTime)
	env.writeSource(t, "empty.txt", "", modTime)
	env.writeSource(t, "blank.txt", " \n\t ", modTime)

	event := env.runToCompletion(t)
	assert.Equal(EventCompleted, event.Type)
	assert.Equal(Counters{Processed: 7, Updated: 4, Failed: 3}, event.Counters)
	assert.Len(env.search(t, "valid"), 4)

	db, err := env.catalogs.Acquire(env.catalog, false)
	assert.NoError(err)
	count, err := db.GetDocCount()
	assert.NoError(err)
	assert.Equal(uint64(4), count, "whitespace-only content must not be stored")

	// files that produced no content are retried by the next run
	retry := env.runToCompletion(t)
	assert.Equal(Counters{Processed: 7, Skipped: 4, Failed: 3}, retry.Counters)
}

func TestRunOutlivesCallerDeadline(t *testing.T) {
	assert := require.New(t)
	gate := make(chan struct{})
	env := newTestEnv(t, &fileExtractor{gate: gate}, Options{})
	env.writeSource(t, "scan.txt", "long running content", time.Unix(1700000000, 0))

	events, cancel := env.service.Subscribe()
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelCtx()
	runID, err := env.service.Start(ctx, env.runContext())
	assert.NoError(err)

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	assert.True(env.service.Busy(), "the run must still be in progress")

	close(gate)
	terminal := waitForTerminal(t, events)
	assert.Equal(runID, terminal.RunID)
	assert.Equal(EventCompleted, terminal.Type)
	assert.Equal(1, terminal.Counters.Updated)
	assert.Len(env.search(t, "running"), 1)
}

func TestBusyTriggerIsRejected(t *testing.T) {
	assert := require.New(t)
	gate := make(chan struct{})
	env := newTestEnv(t, &fileExtractor{gate: gate}, Options{})
	env.writeSource(t, "slow.txt", "slow content", time.Unix(1700000000, 0))

	events, cancel := env.service.Subscribe()
	defer cancel()

	runID, err := env.service.Start(context.Background(), env.runContext())
	assert.NoError(err)
	assert.True(env.service.Busy())

	_, err = env.service.Start(context.Background(), env.runContext())
	assert.ErrorIs(err, ErrBusy)

	var sawBusy bool
	for !sawBusy {
		select {
		case event := <-events:
			sawBusy = event.Type == EventBusy
		case <-time.After(5 * time.Second):
			t.Fatal("busy event was not published")
		}
	}

	close(gate)
	terminal := waitForTerminal(t, events)
	assert.Equal(EventCompleted, terminal.Type)
	assert.Equal(runID, terminal.RunID)
	assert.Equal(1, terminal.Counters.Updated)

	// the rejected trigger was not queued
	select {
	case event := <-events:
		assert.NotEqual(EventProgress, event.Type, "unexpected second run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCatalogLockedByAnotherProcess(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	assert.NoError(os.MkdirAll(env.catalog, 0755))

	other := flock.New(searchdb.IndexDir(env.catalog) + lockFileSuffix)
	locked, err := other.TryLock()
	assert.NoError(err)
	assert.True(locked)

	_, err = env.service.Start(context.Background(), env.runContext())
	assert.ErrorIs(err, ErrBusy)
	assert.False(env.service.Busy())

	assert.NoError(other.Unlock())
	event := env.runToCompletion(t)
	assert.Equal(EventCompleted, event.Type)
}

func TestConfigurationErrors(t *testing.T) {
	env := newTestEnv(t, &fileExtractor{}, Options{})
	sourceFile := env.writeSource(t, "file.txt", "x", time.Now())

	tests := []struct {
		name  string
		rc    RunContext
		field string
	}{
		{name: "missing catalog", rc: RunContext{SourcePath: env.source}, field: "catalog_path"},
		{name: "missing source", rc: RunContext{CatalogPath: env.catalog}, field: "source_path"},
		{name: "source is a file", rc: RunContext{CatalogPath: env.catalog, SourcePath: sourceFile}, field: "source_path"},
		{name: "source does not exist", rc: RunContext{CatalogPath: env.catalog, SourcePath: filepath.Join(env.source, "nope")}, field: "source_path"},
		{name: "catalog is a file", rc: RunContext{CatalogPath: sourceFile, SourcePath: env.source}, field: "catalog_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := require.New(t)

			_, err := env.service.Start(context.Background(), tt.rc)
			var configErr *ConfigurationError
			assert.True(errors.As(err, &configErr), "expected a configuration error, got %v", err)
			assert.Equal(tt.field, configErr.Field)
			assert.False(env.service.Busy())
		})
	}

	_, err := os.Stat(env.catalog)
	require.True(t, os.IsNotExist(err), "a rejected run must not touch the catalog")
}

func TestStoreFailureFailsRun(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	env.writeSource(t, "a.txt", "content", time.Unix(1700000000, 0))

	// a plain file where the index directory belongs
	assert.NoError(os.MkdirAll(env.catalog, 0755))
	blocker := searchdb.IndexDir(env.catalog)
	assert.NoError(os.WriteFile(blocker, []byte("not an index"), 0644))

	events, cancel := env.service.Subscribe()
	defer cancel()
	runID, err := env.service.Start(context.Background(), env.runContext())
	assert.NoError(err)

	event := waitForTerminal(t, events)
	assert.Equal(EventFailed, event.Type)
	assert.NotEmpty(event.Error)
	assert.Equal(StateFailed, env.service.State())

	record, err := env.service.Status(runID)
	assert.NoError(err)
	assert.Equal(string(StateFailed), record.State)
	assert.Equal(ProgressStatusFailed, record.Progress)
	assert.True(record.Finished())

	// a failed catalog can be retried once the problem is gone
	assert.NoError(os.Remove(blocker))
	retry := env.runToCompletion(t)
	assert.Equal(EventCompleted, retry.Type)
	assert.Equal(1, retry.Counters.Updated)
}

func TestPruneMissingRemovesDeletedFiles(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{PruneMissing: true})
	modTime := time.Unix(1700000000, 0)

	keep := env.writeSource(t, "keep.txt", "shared keep", modTime)
	gone := env.writeSource(t, "gone.txt", "shared gone", modTime)
	env.runToCompletion(t)

	assert.NoError(os.Remove(gone))
	event := env.runToCompletion(t)
	assert.Equal(Counters{Processed: 1, Skipped: 1, Removed: 1}, event.Counters)

	results := env.search(t, "shared")
	assert.Len(results, 1)
	assert.Equal(keep, results[0].Path)
}

func TestDeletedFilesAreKeptByDefault(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	modTime := time.Unix(1700000000, 0)

	gone := env.writeSource(t, "gone.txt", "historical content", modTime)
	env.runToCompletion(t)

	assert.NoError(os.Remove(gone))
	event := env.runToCompletion(t)
	assert.Equal(0, event.Counters.Removed)
	assert.Len(env.search(t, "historical"), 1)
}

func TestRunRecords(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	env.writeSource(t, "a.txt", "content", time.Unix(1700000000, 0))

	event := env.runToCompletion(t)

	record, err := env.service.Status(event.RunID)
	assert.NoError(err)
	assert.Equal(string(StateCompleted), record.State)
	assert.Equal(ProgressStatusComplete, record.Progress)
	assert.Equal(1, record.Updated)
	assert.Equal(env.catalog, record.CatalogPath)
	assert.True(record.StartedAt.Equal(testStartTime))
	assert.True(record.Finished())

	last, err := env.service.LastRun(env.catalog)
	assert.NoError(err)
	assert.Equal(event.RunID, last.ID)

	_, err = env.service.Status("no-such-run")
	assert.ErrorIs(err, ErrRunNotFound)
	_, err = env.service.LastRun(filepath.Join(t.TempDir(), "never-indexed"))
	assert.ErrorIs(err, ErrRunNotFound)
}

func TestRunHistoryIsBounded(t *testing.T) {
	assert := require.New(t)
	previous := maxRunRecords
	maxRunRecords = 2
	t.Cleanup(func() { maxRunRecords = previous })

	clk := testclock.NewClock(testStartTime)
	env := newTestEnv(t, &fileExtractor{}, Options{Clock: clk})
	env.writeSource(t, "a.txt", "content", time.Unix(1700000000, 0))

	var runIDs []string
	for range 3 {
		runIDs = append(runIDs, env.runToCompletion(t).RunID)
		clk.Advance(time.Minute)
	}

	runs, err := env.service.Runs()
	assert.NoError(err)
	assert.Len(runs, 2)
	assert.Equal(runIDs[2], runs[0].ID, "newest run first")
	assert.Equal(runIDs[1], runs[1].ID)

	_, err = env.service.Status(runIDs[0])
	assert.ErrorIs(err, ErrRunNotFound)

	last, err := env.service.LastRun(env.catalog)
	assert.NoError(err)
	assert.Equal(runIDs[2], last.ID)
}

func TestProgressEventsFollowStateMachine(t *testing.T) {
	assert := require.New(t)
	env := newTestEnv(t, &fileExtractor{}, Options{})
	for _, name := range []string{"a.txt", "b.txt"} {
		env.writeSource(t, name, "content", time.Unix(1700000000, 0))
	}

	events, cancel := env.service.Subscribe()
	defer cancel()
	_, err := env.service.Start(context.Background(), env.runContext())
	assert.NoError(err)

	var states []State
	for event := range events {
		if event.Terminal() {
			break
		}
		if len(states) == 0 || states[len(states)-1] != event.State {
			states = append(states, event.State)
		}
	}

	assert.Equal([]State{StateScanning, StateExtracting, StateUpdating, StateCommitting}, states)
}

func TestNewFallsBackToDefaultExtensions(t *testing.T) {
	assert := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	service := New(ctx, logger.NewDiscard(), &fileExtractor{}, searchdb.NewCatalogs(logger.NewDiscard()), nil, Options{})
	t.Cleanup(func() {
		cancel()
		<-service.stopped
	})

	for _, ext := range []string{".txt", ".pdf", ".pst"} {
		assert.Contains(service.scanner.extensions, ext)
	}
}
