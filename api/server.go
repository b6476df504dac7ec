package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/doccatalog/api/handlers"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/validation"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the services the HTTP surface presents.
type Dependencies struct {
	Indexer  handlers.Indexer
	Searcher handlers.Searcher
	Defaults handlers.Defaults
}

type server struct {
	router     *gin.Engine
	httpServer *http.Server
	validator  *validation.Validator
	logger     logger.Logger
}

// Run serves HTTP on port until ctx is cancelled.
func Run(ctx context.Context, logger logger.Logger, port string, deps Dependencies) error {
	s := &server{
		logger: logger,
	}
	if err := s.setupDependencies(); err != nil {
		return err
	}
	s.setupRouter(deps)
	s.setupHTTPServer(port)

	return s.serve(ctx)
}

func (s *server) setupDependencies() error {
	var err error
	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		return err
	}

	return nil
}

func (s *server) setupRouter(deps Dependencies) {
	router := newRouter()

	router.Use(loggingMiddleware(s.logger))

	setupRoutes(router, s.logger, deps, s.validator)

	s.router = router
}

func (s *server) setupHTTPServer(port string) {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: s.router.Handler(),
	}
}

func (s *server) serve(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
		close(errC)
	}()

	select {
	case err := <-errC:
		if err != nil {
			s.logger.Error("http server stopped", "err", err.Error())
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("starting to shut down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down http server", "err", err.Error())
		return err
	}
	s.logger.Info("shut down http server successfully")

	return nil
}
