package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/doccatalog/db/kvdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/services/index"
	"github.com/meghashyamc/doccatalog/validation"
)

// Indexer starts indexing runs and reports on them.
type Indexer interface {
	Start(ctx context.Context, rc index.RunContext) (string, error)
	Status(runID string) (*kvdb.RunRecord, error)
	LastRun(catalogPath string) (*kvdb.RunRecord, error)
	Runs() ([]kvdb.RunRecord, error)
	Subscribe() (<-chan index.Event, func())
}

// Paths used when a request leaves catalog_path or source_path empty.
type Defaults struct {
	CatalogPath string
	SourcePath  string
}

type IndexRequest struct {
	CatalogPath string `json:"catalog_path" validate:"valid_path"`
	SourcePath  string `json:"source_path" validate:"valid_source"`
}

func (r *IndexRequest) setDefaults(defaults Defaults) {
	if r.CatalogPath == "" {
		r.CatalogPath = defaults.CatalogPath
	}
	if r.SourcePath == "" {
		r.SourcePath = defaults.SourcePath
	}
}

type IndexResponse struct {
	ID string `json:"id"`
}

type LatestRunRequest struct {
	CatalogPath string `form:"catalog_path" validate:"valid_path"`
}

func SetupIndex(router *gin.Engine, logger logger.Logger, indexer Indexer, defaults Defaults, validator *validation.Validator) {
	router.POST("/index", handleIndex(indexer, logger, defaults, validator))
	router.GET("/index", handleListRuns(indexer, logger))
	router.GET("/index/latest", handleLatestRun(indexer, logger, defaults, validator))
	router.GET("/index/events", handleIndexEvents(indexer, logger))
	router.GET("/index/:id", handleRunStatus(indexer, logger))
}

func handleIndex(indexer Indexer, logger logger.Logger, defaults Defaults, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := IndexRequest{}
		if err := c.ShouldBindJSON(&request); err != nil {
			logger.Warn("could not extract expected parameters from the index request", "err", err.Error())
			abortWithError(c, http.StatusUnprocessableEntity, "failed to extract request body parameters")
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate request", "err", err.Error())
			abortWithError(c, http.StatusNotAcceptable, err.Error())
			return
		}
		request.setDefaults(defaults)

		runID, err := indexer.Start(c.Request.Context(), index.RunContext{CatalogPath: request.CatalogPath, SourcePath: request.SourcePath})
		if err != nil {
			var configErr *index.ConfigurationError
			switch {
			case errors.Is(err, index.ErrBusy):
				abortWithError(c, http.StatusConflict, err.Error())
			case errors.As(err, &configErr):
				abortWithError(c, http.StatusNotAcceptable, err.Error())
			default:
				logger.Error("could not start indexing", "err", err.Error())
				abortWithError(c, http.StatusInternalServerError, err.Error())
			}
			return
		}

		writeResponse(c, IndexResponse{ID: runID}, http.StatusAccepted, nil)
	}
}

func handleListRuns(indexer Indexer, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := indexer.Runs()
		if err != nil {
			logger.Error("could not list indexing runs", "err", err.Error())
			abortWithError(c, http.StatusInternalServerError, err.Error())
			return
		}

		writeResponse(c, runs, http.StatusOK, nil)
	}
}

func handleRunStatus(indexer Indexer, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeRunRecord(c, logger, func() (*kvdb.RunRecord, error) {
			return indexer.Status(c.Param("id"))
		})
	}
}

func handleLatestRun(indexer Indexer, logger logger.Logger, defaults Defaults, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := LatestRunRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from latest run request", "err", err.Error())
			abortWithError(c, http.StatusUnprocessableEntity, "failed to extract request parameters")
			return
		}
		if err := validator.Validate(request); err != nil {
			abortWithError(c, http.StatusNotAcceptable, err.Error())
			return
		}
		if request.CatalogPath == "" {
			request.CatalogPath = defaults.CatalogPath
		}

		writeRunRecord(c, logger, func() (*kvdb.RunRecord, error) {
			return indexer.LastRun(request.CatalogPath)
		})
	}
}

func writeRunRecord(c *gin.Context, logger logger.Logger, get func() (*kvdb.RunRecord, error)) {
	record, err := get()
	if err != nil {
		if errors.Is(err, index.ErrRunNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
			return
		}
		logger.Error("could not read indexing run", "err", err.Error())
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}

	writeResponse(c, record, http.StatusOK, nil)
}

// handleIndexEvents streams run events as server-sent events until the
// client goes away.
func handleIndexEvents(indexer Indexer, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, cancel := indexer.Subscribe()
		defer cancel()

		logger.Debug("client subscribed to index events", "remote", c.ClientIP())
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case event, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent(string(event.Type), event)
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}
