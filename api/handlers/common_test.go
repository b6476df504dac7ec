// Common test helpers
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/doccatalog/config"
	"github.com/meghashyamc/doccatalog/db/kvdb"
	"github.com/meghashyamc/doccatalog/db/searchdb"
	"github.com/meghashyamc/doccatalog/logger"
	"github.com/meghashyamc/doccatalog/services/extract"
	"github.com/meghashyamc/doccatalog/services/index"
	"github.com/meghashyamc/doccatalog/services/search"
	"github.com/meghashyamc/doccatalog/validation"
	"github.com/stretchr/testify/require"
)

var defaultTestRequestHeaders = map[string]string{"Content-Type": "application/json"}

var testFiles = map[string]string{
	"file1.txt":              "This is test content for file1",
	"file2.go":               "package main\n\nfunc main() {\n\tprint(\"Hello\")\n}",
	"subdir/file3.md":        "# Test Markdown\n\nThis is a test markdown file",
	"subdir/file4.json":      `{"key": "value", "number": 42}`,
	"subdir/nested/file5.py": "def hello():\n    print('Hello World')",
}

type testCase struct {
	name           string
	requestHeaders map[string]string
	requestBody    map[string]any
	queryParams    map[string]string
	expectedStatus int
}

type testServer struct {
	router     *gin.Engine
	sourcePath string
	catalog    string
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func setupTestServer(t *testing.T, assert *require.Assertions) *testServer {
	t.Helper()

	sourcePath := t.TempDir()
	catalog := t.TempDir()

	t.Setenv("ENV", "test")
	t.Setenv("CATALOG_PATH", catalog)
	t.Setenv("SOURCE_PATH", sourcePath)
	cfg, err := config.Load("test")
	assert.NoError(err, "could not load config")

	for relPath, content := range testFiles {
		fullPath := filepath.Join(sourcePath, relPath)
		err := os.MkdirAll(filepath.Dir(fullPath), 0755)
		assert.NoError(err, "could not create test sub-directory")
		err = os.WriteFile(fullPath, []byte(content), 0644)
		assert.NoError(err, "could not write test file")
	}

	testLogger := newTestLogger()

	kvDB, err := kvdb.New(testLogger, filepath.Join(t.TempDir(), "runs.db"))
	assert.NoError(err, "could not create kv database")
	catalogs := searchdb.NewCatalogs(testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	indexService := index.New(ctx, testLogger, extract.New(testLogger, extract.Options{}), catalogs, kvDB, index.Options{Extensions: cfg.GetExtensions()})
	searchService, err := search.New(testLogger, catalogs, search.Options{})
	assert.NoError(err, "could not create search service")

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")
	gin.SetMode(gin.TestMode)
	router := gin.New()

	defaults := Defaults{CatalogPath: cfg.GetCatalogPath(), SourcePath: cfg.GetSourcePath()}
	SetupIndex(router, testLogger, indexService, defaults, validator)
	SetupSearch(router, testLogger, searchService, defaults, validator)

	t.Cleanup(func() {
		cancel()
		assert.NoError(catalogs.CloseAll(), "could not close search databases")
		assert.NoError(kvDB.Close(), "could not close kv database")
	})

	return &testServer{router: router, sourcePath: sourcePath, catalog: catalog}
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, requestBodyMap map[string]interface{}, queryParams map[string]string) *httptest.ResponseRecorder {

	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		values := url.Values{}
		for key, value := range queryParams {
			values.Set(key, value)
		}
		endpoint = endpoint + "?" + values.Encode()
	}

	var jsonBody []byte
	if requestBodyMap != nil {
		var err error
		jsonBody, err = json.Marshal(requestBodyMap)
		assert.NoError(err)
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers, "body", string(jsonBody))

	var req *http.Request
	var err error
	if len(jsonBody) > 0 {
		req, err = http.NewRequest(method, endpoint, bytes.NewBuffer(jsonBody))
	} else {
		req, err = http.NewRequest(method, endpoint, nil)
	}
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

// indexTestFiles starts a run over the test source and waits for it to finish.
func indexTestFiles(t *testing.T, assert *require.Assertions, server *testServer) string {
	t.Helper()

	w := makeTestHTTPRequest(server.router, assert, http.MethodPost, "/index", defaultTestRequestHeaders, map[string]any{}, nil)
	assert.Equal(http.StatusAccepted, w.Code, w.Body.String())

	var body struct {
		Data IndexResponse `json:"data"`
	}
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &body))
	waitForRun(assert, server, body.Data.ID)

	return body.Data.ID
}

func waitForRun(assert *require.Assertions, server *testServer, runID string) kvdb.RunRecord {
	maxWaitForIndexCreation := 10 * time.Second

	for startTime := time.Now().UTC(); time.Since(startTime) < maxWaitForIndexCreation; time.Sleep(50 * time.Millisecond) {
		w := makeTestHTTPRequest(server.router, assert, http.MethodGet, "/index/"+runID, nil, nil, nil)
		assert.Equal(http.StatusOK, w.Code, w.Body.String())

		var body struct {
			Data kvdb.RunRecord `json:"data"`
		}
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &body))
		if body.Data.Finished() {
			return body.Data
		}
	}
	assert.Fail("timed out waiting for index creation: ", runID)
	return kvdb.RunRecord{}
}
