package search

import (
	"context"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
)

var ErrNoCatalog = errors.New("no index exists in this catalog")

const defaultCacheSize = 128

// Catalogs gives read access to the index of a catalog root.
type Catalogs interface {
	Exists(catalogRoot string) bool
	Acquire(catalogRoot string, create bool) (*searchdb.BleveDB, error)
}

type Options struct {
	MaxHits   int
	CacheSize int
}

type Service struct {
	logger   logger.Logger
	catalogs Catalogs
	maxHits  int
	cache    *lru.Cache[cacheKey, []searchdb.Result]
}

// cacheKey includes the store generation, so a commit invalidates every
// cached hit list for that catalog.
type cacheKey struct {
	location   string
	generation uint64
	expression string
}

func New(logger logger.Logger, catalogs Catalogs, options Options) (*Service, error) {
	if options.MaxHits <= 0 || options.MaxHits > searchdb.MaxHits {
		options.MaxHits = searchdb.MaxHits
	}
	if options.CacheSize <= 0 {
		options.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[cacheKey, []searchdb.Result](options.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	return &Service{
		logger:   logger,
		catalogs: catalogs,
		maxHits:  options.MaxHits,
		cache:    cache,
	}, nil
}

// Execute runs q against the last committed snapshot of the catalog.
func (s *Service) Execute(ctx context.Context, catalogRoot string, q *Query) (*ResultSet, error) {
	if !s.catalogs.Exists(catalogRoot) {
		return nil, ErrNoCatalog
	}

	db, err := s.catalogs.Acquire(catalogRoot, false)
	if err != nil {
		if errors.Is(err, searchdb.ErrNoIndex) {
			return nil, ErrNoCatalog
		}
		return nil, err
	}

	key := cacheKey{location: db.Location(), generation: db.Generation(), expression: q.Expression}
	if results, ok := s.cache.Get(key); ok {
		s.logger.Debug("serving search from cache", "query", q.Expression)
		return &ResultSet{Query: q.Expression, Results: slices.Clone(results)}, nil
	}

	results, err := db.Search(ctx, q.query, s.maxHits)
	if err != nil {
		s.logger.Error("search failed", "query", q.Expression, "catalog_path", catalogRoot, "err", err.Error())
		return nil, err
	}
	s.cache.Add(key, results)

	return &ResultSet{Query: q.Expression, Results: slices.Clone(results)}, nil
}

// Search builds, executes and sorts in one call.
func (s *Service) Search(ctx context.Context, catalogRoot string, term string, sortKey SortKey) (*ResultSet, error) {
	q, err := BuildQuery(term)
	if err != nil {
		s.logger.Warn("could not parse query", "term", term, "err", err.Error())
		return nil, err
	}

	resultSet, err := s.Execute(ctx, catalogRoot, q)
	if err != nil {
		return nil, err
	}

	resultSet.Sort(sortKey)
	return resultSet, nil
}
