package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/services/search"
	"github.com/meghashyamc/doccatalog/validation"
)

const defaultResultsPerPage = 20

const HeaderPaginationTotalCount = "X-Pagination-Total-Count"

// Searcher runs a term against a catalog and orders the hits.
type Searcher interface {
	Search(ctx context.Context, catalogRoot string, term string, sortKey search.SortKey) (*search.ResultSet, error)
}

type SearchRequest struct {
	Query       string `form:"query" validate:"required,valid_query,min=1,max=1000"`
	Sort        string `form:"sort" validate:"valid_sort"`
	CatalogPath string `form:"catalog_path" validate:"valid_path"`
	PerPage     int    `form:"per_page" validate:"min=0,max=100"`
	Page        int    `form:"page" validate:"min=0"`
}

func (r *SearchRequest) setDefaults(defaults Defaults) {
	if r.PerPage == 0 {
		r.PerPage = defaultResultsPerPage
	}

	if r.Page == 0 {
		r.Page = 1
	}

	if r.CatalogPath == "" {
		r.CatalogPath = defaults.CatalogPath
	}
}

type SearchResponse struct {
	Query       string            `json:"query"`
	Results     []searchdb.Result `json:"results"`
	PageDetails Pagination        `json:"page_details"`
}

func SetupSearch(router *gin.Engine, logger logger.Logger, searcher Searcher, defaults Defaults, validator *validation.Validator) {
	router.GET("/search", handleSearch(searcher, logger, defaults, validator))
}

func handleSearch(searcher Searcher, logger logger.Logger, defaults Defaults, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from search request", "err", err.Error())
			abortWithError(c, http.StatusUnprocessableEntity, "failed to extract request body parameters")
			return
		}
		request.setDefaults(defaults)

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate search request", "err", err.Error())
			abortWithError(c, http.StatusNotAcceptable, err.Error())
			return
		}
		if request.CatalogPath == "" {
			abortWithError(c, http.StatusNotAcceptable, "missing required field 'catalog_path'")
			return
		}

		sortKey, err := search.ParseSortKey(request.Sort)
		if err != nil {
			abortWithError(c, http.StatusNotAcceptable, err.Error())
			return
		}

		resultSet, err := searcher.Search(c.Request.Context(), request.CatalogPath, request.Query, sortKey)
		if err != nil {
			var parseErr *search.QueryParseError
			switch {
			case errors.As(err, &parseErr):
				abortWithError(c, http.StatusNotAcceptable, err.Error())
			case errors.Is(err, search.ErrNoCatalog):
				abortWithError(c, http.StatusNotFound, err.Error())
			default:
				logger.Error("search failed", "err", err.Error())
				abortWithError(c, http.StatusInternalServerError, err.Error())
			}
			return
		}

		limit := request.PerPage
		offset := (request.Page - 1) * request.PerPage
		searchResponse := SearchResponse{
			Query:       resultSet.Query,
			Results:     page(resultSet.Results, limit, offset),
			PageDetails: calculatePagination(resultSet.Len(), limit, offset),
		}

		c.Header(HeaderPaginationTotalCount, strconv.Itoa(resultSet.Len()))
		writeResponse(c, searchResponse, http.StatusOK, nil)
	}
}

func page(results []searchdb.Result, limit int, offset int) []searchdb.Result {
	if offset >= len(results) {
		return []searchdb.Result{}
	}
	return results[offset:min(offset+limit, len(results))]
}
