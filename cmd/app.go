package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/meghashyamc/doccatalog/config"
	"github.com/meghashyamc/doccatalog/db/kvdb"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/services/extract"
	"github.com/meghashyamc/doccatalog/services/index"
	"github.com/meghashyamc/doccatalog/services/search"
)

const workerStopTimeout = 30 * time.Second

// app holds the process-wide services every command works with.
type app struct {
	cfg       *config.Config
	logger    logger.Logger
	logCloser io.Closer
	kvDB      *kvdb.BoltDB
	catalogs  *searchdb.Catalogs
	indexer   *index.Service
	searcher  *search.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	appLogger, logCloser, err := logger.NewWithOptions(logger.Options{Level: cfg.GetLogLevel(), File: cfg.GetLogFile()})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: appLogger, logCloser: logCloser}
	a.catalogs = searchdb.NewCatalogs(appLogger)

	a.searcher, err = search.New(appLogger, a.catalogs, search.Options{MaxHits: cfg.GetMaxHits()})
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	a.kvDB, err = kvdb.New(appLogger, cfg.GetKVDBPath())
	if err != nil {
		appLogger.Error("error creating kvDB", "err", err.Error())
		logCloser.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	extractor := extract.New(appLogger, extract.OptionsFromConfig(appLogger, cfg))
	a.indexer = index.New(ctx, appLogger, extractor, a.catalogs, a.kvDB, index.Options{
		Extensions:   cfg.GetExtensions(),
		Workers:      cfg.GetWorkers(),
		PruneMissing: cfg.GetPruneMissing(),
		SkipHidden:   cfg.GetSkipHidden(),
	})

	return a, nil
}

func (a *app) runContext() index.RunContext {
	return index.RunContext{CatalogPath: a.cfg.GetCatalogPath(), SourcePath: a.cfg.GetSourcePath()}
}

// Close must run after the context given to newApp is cancelled; it waits for
// the indexing worker so no run is writing while the stores close.
func (a *app) Close() error {
	select {
	case <-a.indexer.Done():
	case <-time.After(workerStopTimeout):
		a.logger.Warn("indexing worker did not stop in time")
	}

	var result error
	if err := a.catalogs.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.kvDB.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.logCloser.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
