package searchdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
)

// MaxHits bounds every search regardless of what the caller asks for.
const MaxHits = 500

// IndexDirName is the directory created under a catalog root.
const IndexDirName = "search_index_db"

var (
	ErrWriterActive = errors.New("a writer is already active on this index")
	ErrWriterClosed = errors.New("writer already committed or discarded")
	ErrClosed       = errors.New("index is closed")
)

// IndexIOError reports that the store could not be created, opened, written or committed.
type IndexIOError struct {
	Op       string
	Location string
	Err      error
}

func (e *IndexIOError) Error() string {
	return fmt.Sprintf("index %s failed at %s: %v", e.Op, e.Location, e.Err)
}

func (e *IndexIOError) Unwrap() error {
	return e.Err
}

type DB interface {
	BeginWrite() (*Writer, error)
	Search(ctx context.Context, q query.Query, maxHits int) ([]Result, error)
	Snapshot(ctx context.Context) (map[string]time.Time, error)
	Generation() uint64
	GetDocCount() (uint64, error)
	Close() error
}
