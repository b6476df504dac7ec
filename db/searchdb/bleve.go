package searchdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	regexptokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/meghashyamc/doccatalog/logger"
)

const (
	indexFieldTitle     = "title"
	indexFieldPath      = "path"
	indexFieldContent   = "content"
	indexFieldSize      = "size"
	indexFieldModTime   = "mtime"
	indexFieldExtension = "extension"

	// FieldContent is the only field user queries are allowed to target.
	FieldContent = indexFieldContent

	contentTokenizerName = "content_words"
	contentAnalyzerName  = "content_analyzer"
	// Words are runs of letters, digits and underscores, optionally joined by
	// single dots (so "cv2.imread" stays one token).
	contentTokenPattern = `[\p{L}\p{N}_]+(?:\.[\p{L}\p{N}_]+)*`

	indexMetaFile = "index_meta.json"
)

var snapshotPageSize = 1000

var _ DB = (*BleveDB)(nil)

type BleveDB struct {
	location string
	logger   logger.Logger
	index    bleve.Index

	writerMu     sync.Mutex
	writerActive bool
	generation   atomic.Uint64
	closed       atomic.Bool
}

// ExistsAt reports whether location holds a bleve index. It never creates anything.
func ExistsAt(location string) bool {
	info, err := os.Stat(filepath.Join(location, indexMetaFile))
	return err == nil && !info.IsDir()
}

// Create initialises a fresh, empty index at location.
func Create(logger logger.Logger, location string) (*BleveDB, error) {
	if err := prepareLocation(location); err != nil {
		logger.Error("could not prepare index location", "location", location, "err", err.Error())
		return nil, &IndexIOError{Op: "create", Location: location, Err: err}
	}

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, &IndexIOError{Op: "create", Location: location, Err: err}
	}

	index, err := bleve.New(location, indexMapping)
	if err != nil {
		logger.Error("could not create index", "location", location, "err", err.Error())
		return nil, &IndexIOError{Op: "create", Location: location, Err: err}
	}

	logger.Info("created index", "location", location)
	return &BleveDB{location: location, logger: logger, index: index}, nil
}

// Open opens an existing index for reading and writing.
func Open(logger logger.Logger, location string) (*BleveDB, error) {
	index, err := bleve.Open(location)
	if err != nil {
		logger.Error("could not open index", "location", location, "err", err.Error())
		return nil, &IndexIOError{Op: "open", Location: location, Err: err}
	}

	return &BleveDB{location: location, logger: logger, index: index}, nil
}

// prepareLocation makes sure the parent exists and that location is either
// absent or an empty directory left behind by an earlier failed create.
func prepareLocation(location string) error {
	if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	info, err := os.Stat(location)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", location)
	}

	entries, err := os.ReadDir(location)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%s exists and is not an index", location)
	}

	return os.Remove(location)
}

func createIndexMapping() (mapping.IndexMapping, error) {

	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenizer(contentTokenizerName, map[string]interface{}{
		"type":   regexptokenizer.Name,
		"regexp": contentTokenPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add content tokenizer: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(contentAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     contentTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add content analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = standard.Name
	titleFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldTitle, titleFieldMapping)

	// Path field - not analyzed (exact match)
	pathFieldMapping := bleve.NewTextFieldMapping()
	pathFieldMapping.Analyzer = keyword.Name
	pathFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldPath, pathFieldMapping)

	// Content field - matched, never stored
	contentFieldMapping := bleve.NewTextFieldMapping()
	contentFieldMapping.Analyzer = contentAnalyzerName
	contentFieldMapping.Store = false
	contentFieldMapping.Index = true
	contentFieldMapping.IncludeTermVectors = false
	docMapping.AddFieldMappingsAt(indexFieldContent, contentFieldMapping)

	sizeFieldMapping := bleve.NewNumericFieldMapping()
	sizeFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldSize, sizeFieldMapping)

	modTimeFieldMapping := bleve.NewTextFieldMapping()
	modTimeFieldMapping.Analyzer = keyword.Name
	modTimeFieldMapping.Index = false
	modTimeFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldModTime, modTimeFieldMapping)

	extensionFieldMapping := bleve.NewTextFieldMapping()
	extensionFieldMapping.Analyzer = keyword.Name
	extensionFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldExtension, extensionFieldMapping)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultField = indexFieldContent

	return indexMapping, nil
}

// Location is the directory the index lives in.
func (b *BleveDB) Location() string {
	return b.location
}

// BeginWrite hands out the single writer for this index.
func (b *BleveDB) BeginWrite() (*Writer, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.writerMu.Lock()
	defer b.writerMu.Unlock()

	if b.writerActive {
		return nil, ErrWriterActive
	}
	b.writerActive = true

	return &Writer{db: b, batch: b.index.NewBatch()}, nil
}

func (b *BleveDB) releaseWriter() {
	b.writerMu.Lock()
	b.writerActive = false
	b.writerMu.Unlock()
}

// Generation increases by one on every successful commit.
func (b *BleveDB) Generation() uint64 {
	return b.generation.Load()
}

func (b *BleveDB) Search(ctx context.Context, q query.Query, maxHits int) ([]Result, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	if maxHits <= 0 || maxHits > MaxHits {
		maxHits = MaxHits
	}

	searchRequest := bleve.NewSearchRequestOptions(q, maxHits, 0, false)
	searchRequest.Fields = []string{indexFieldTitle, indexFieldPath, indexFieldSize, indexFieldModTime, indexFieldExtension}

	searchResult, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		b.logger.Error("search failed", "location", b.location, "err", err.Error())
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, len(searchResult.Hits))
	for i, hit := range searchResult.Hits {
		result := Result{
			Path:  hit.ID,
			Score: hit.Score,
		}

		if title, ok := hit.Fields[indexFieldTitle].(string); ok {
			result.Title = title
		}
		if path, ok := hit.Fields[indexFieldPath].(string); ok {
			result.Path = path
		}
		if size, ok := hit.Fields[indexFieldSize].(float64); ok {
			result.Size = int64(size)
		}
		if modTime, ok := hit.Fields[indexFieldModTime].(string); ok {
			result.ModTime = parseModTime(modTime)
		}
		if extension, ok := hit.Fields[indexFieldExtension].(string); ok {
			result.Extension = extension
		}

		results[i] = result
	}

	return results, nil
}

// Snapshot returns path -> mtime for every committed document.
func (b *BleveDB) Snapshot(ctx context.Context) (map[string]time.Time, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	snapshot := make(map[string]time.Time)

	searchRequest := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), snapshotPageSize, 0, false)
	searchRequest.Fields = []string{indexFieldModTime}
	searchRequest.SortBy([]string{"_id"})

	for {
		searchResult, err := b.index.SearchInContext(ctx, searchRequest)
		if err != nil {
			b.logger.Error("could not load index snapshot", "location", b.location, "err", err.Error())
			return nil, &IndexIOError{Op: "snapshot", Location: b.location, Err: err}
		}

		for _, hit := range searchResult.Hits {
			var modTime time.Time
			if value, ok := hit.Fields[indexFieldModTime].(string); ok {
				modTime = parseModTime(value)
			}
			snapshot[hit.ID] = modTime
		}

		if len(searchResult.Hits) < snapshotPageSize {
			break
		}
		searchRequest.SearchAfter = []string{searchResult.Hits[len(searchResult.Hits)-1].ID}
	}

	return snapshot, nil
}

func (b *BleveDB) GetDocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *BleveDB) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	if b.index != nil {
		if err := b.index.Close(); err != nil {
			b.logger.Error("could not close search index", "err", err.Error())
			return err
		}
	}
	return nil
}

func formatModTime(modTime time.Time) string {
	return strconv.FormatInt(modTime.UnixNano(), 10)
}

func parseModTime(value string) time.Time {
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

var contentTokenRegexp = regexp.MustCompile(contentTokenPattern)

// Tokenize splits text the way the content analyzer does.
func Tokenize(text string) []string {
	return contentTokenRegexp.FindAllString(strings.ToLower(text), -1)
}
