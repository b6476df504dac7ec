package searchdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/meghashyamc/doccatalog/logger"
)

var ErrNoIndex = errors.New("no index exists in this catalog")

// IndexDir is where the index for a catalog root lives.
func IndexDir(catalogRoot string) string {
	return filepath.Join(catalogRoot, IndexDirName)
}

// Catalogs keeps at most one open index per location for the whole process.
// bleve holds an exclusive lock on an open index, so the indexing worker and
// the search path have to share a handle.
type Catalogs struct {
	logger logger.Logger
	mu     sync.Mutex
	open   map[string]*BleveDB
}

func NewCatalogs(logger logger.Logger) *Catalogs {
	return &Catalogs{
		logger: logger,
		open:   make(map[string]*BleveDB),
	}
}

// Exists reports whether catalogRoot holds an index, without opening it.
func (c *Catalogs) Exists(catalogRoot string) bool {
	location, err := resolve(catalogRoot)
	if err != nil {
		return false
	}

	c.mu.Lock()
	_, ok := c.open[location]
	c.mu.Unlock()

	return ok || ExistsAt(location)
}

// Acquire returns the index for catalogRoot, opening it if needed. With create
// set, a missing index is created; otherwise ErrNoIndex is returned.
func (c *Catalogs) Acquire(catalogRoot string, create bool) (*BleveDB, error) {
	location, err := resolve(catalogRoot)
	if err != nil {
		return nil, &IndexIOError{Op: "open", Location: catalogRoot, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.open[location]; ok {
		return db, nil
	}

	var db *BleveDB
	switch {
	case ExistsAt(location):
		db, err = Open(c.logger, location)
	case create:
		db, err = Create(c.logger, location)
	default:
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, err
	}

	c.open[location] = db
	return db, nil
}

// CloseAll closes every index opened through this registry.
func (c *Catalogs) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for location, db := range c.open {
		if closeErr := db.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("%s: %w", location, closeErr))
		}
		delete(c.open, location)
	}

	return err
}

func resolve(catalogRoot string) (string, error) {
	if catalogRoot == "" {
		return "", errors.New("catalog path cannot be empty")
	}
	absRoot, err := filepath.Abs(catalogRoot)
	if err != nil {
		return "", err
	}
	return IndexDir(absRoot), nil
}
