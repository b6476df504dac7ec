package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/doccatalog/api/handlers"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/validation"
)

func setupRoutes(router *gin.Engine, logger logger.Logger, deps Dependencies, validator *validation.Validator) {
	router.GET("/health", health())

	handlers.SetupIndex(router, logger, deps.Indexer, deps.Defaults, validator)
	handlers.SetupSearch(router, logger, deps.Searcher, deps.Defaults, validator)
}

func health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())

	return router
}
