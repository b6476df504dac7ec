package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	defaultPort           = "8080"
	defaultKVDBPath       = ".doccatalog/runs.db"
	defaultLogFile        = "catalog_errors.log"
	defaultLogLevel       = "info"
	defaultWorkers        = 4
	defaultMaxHits        = 500
	defaultMaxTextBytes   = 10 * 1024 * 1024
	defaultOCRLanguages   = "bul+eng"
	defaultTesseractPath  = "tesseract"
	defaultPdftoppmPath   = "pdftoppm"
	defaultOCRDPI         = 300
	defaultMinPageChars   = 15
	defaultMaxFolderDepth = 256
	defaultWatchDebounce  = 5000
)

// DefaultExtensions is the supported set used when no extensions are configured.
var DefaultExtensions = []string{
	".txt", ".md", ".py", ".js", ".ts", ".go", ".c", ".h", ".cpp", ".java", ".cs",
	".json", ".xml", ".yaml", ".yml", ".sql", ".html", ".htm", ".css", ".bat", ".ini",
	".conf", ".csv", ".log", ".sh",
	".pdf", ".docx", ".msg", ".eml", ".pst", ".ost",
}

type Config struct {
	config *viper.Viper
}

func Load(env string) (*Config, error) {

	if len(env) == 0 {
		if env = os.Getenv(keyEnv); len(env) == 0 {
			env = envLocal
		}
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

// Set overrides a key for the lifetime of this Config. Command line flags use it.
func (c *Config) Set(key string, value any) {
	c.config.Set(key, value)
}

func (c *Config) GetPort() string {
	return c.getString("PORT", "server.port", defaultPort)
}

func (c *Config) GetKVDBPath() string {
	return c.getString("KVDB_PATH", "database.kvdb_path", defaultKVDBPath)
}

// GetCatalogPath is the directory under which the search_index_db store lives.
func (c *Config) GetCatalogPath() string {
	return c.getString("CATALOG_PATH", "catalog.path", "")
}

func (c *Config) GetSourcePath() string {
	return c.getString("SOURCE_PATH", "source.path", "")
}

// GetExtensions returns the lowercased, dot-prefixed extensions considered for indexing.
func (c *Config) GetExtensions() []string {
	raw := c.config.GetStringSlice("index.extensions")
	if env := c.config.GetString("INDEX_EXTENSIONS"); len(env) > 0 {
		raw = strings.Split(env, ",")
	}
	if len(raw) == 0 {
		return DefaultExtensions
	}

	extensions := make([]string, 0, len(raw))
	for _, ext := range raw {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}

	return extensions
}

func (c *Config) GetWorkers() int {
	return c.getInt("INDEX_WORKERS", "index.workers", defaultWorkers)
}

func (c *Config) GetMaxHits() int {
	return c.getInt("INDEX_MAX_HITS", "index.max_hits", defaultMaxHits)
}

func (c *Config) GetMaxTextBytes() int64 {
	return int64(c.getInt("INDEX_MAX_TEXT_BYTES", "index.max_text_bytes", defaultMaxTextBytes))
}

// GetPruneMissing reports whether runs remove documents whose source file is gone.
func (c *Config) GetPruneMissing() bool {
	return c.getBool("INDEX_PRUNE_MISSING", "index.prune_missing")
}

// GetSkipHidden reports whether dotfiles and dot-directories are left out of runs.
func (c *Config) GetSkipHidden() bool {
	return c.getBool("INDEX_SKIP_HIDDEN", "index.skip_hidden")
}

func (c *Config) GetOCREnabled() bool {
	if !c.config.IsSet("OCR_ENABLED") && !c.config.IsSet("ocr.enabled") {
		return true
	}
	return c.getBool("OCR_ENABLED", "ocr.enabled")
}

func (c *Config) GetOCRLanguages() string {
	return c.getString("OCR_LANGUAGES", "ocr.languages", defaultOCRLanguages)
}

func (c *Config) GetTesseractPath() string {
	return c.getString("TESSERACT_PATH", "ocr.tesseract_path", defaultTesseractPath)
}

func (c *Config) GetPdftoppmPath() string {
	return c.getString("PDFTOPPM_PATH", "ocr.pdftoppm_path", defaultPdftoppmPath)
}

func (c *Config) GetOCRDPI() int {
	return c.getInt("OCR_DPI", "ocr.dpi", defaultOCRDPI)
}

// GetMinPageChars is the non-whitespace character count below which a PDF page is OCR'd.
func (c *Config) GetMinPageChars() int {
	return c.getInt("OCR_MIN_PAGE_CHARS", "ocr.min_page_chars", defaultMinPageChars)
}

// GetMaxFolderDepth bounds mail archive traversal. Zero disables the limit.
func (c *Config) GetMaxFolderDepth() int {
	return c.getInt("MAIL_MAX_FOLDER_DEPTH", "mail.max_folder_depth", defaultMaxFolderDepth)
}

func (c *Config) GetWatchDebounceMillis() int {
	return c.getInt("WATCH_DEBOUNCE_MS", "watch.debounce_ms", defaultWatchDebounce)
}

func (c *Config) GetLogLevel() string {
	return c.getString("LOG_LEVEL", "log.level", defaultLogLevel)
}

func (c *Config) GetLogFile() string {
	if c.config.IsSet("LOG_FILE") {
		return c.config.GetString("LOG_FILE")
	}
	if c.config.IsSet("log.file") {
		return c.config.GetString("log.file")
	}
	return defaultLogFile
}

func (c *Config) getString(envKey string, fileKey string, fallback string) string {
	value := c.config.GetString(envKey)
	if len(value) == 0 {
		value = c.config.GetString(fileKey)
	}
	if len(value) == 0 {
		value = fallback
	}

	return value
}

func (c *Config) getInt(envKey string, fileKey string, fallback int) int {
	if c.config.IsSet(envKey) {
		return c.config.GetInt(envKey)
	}
	if c.config.IsSet(fileKey) {
		return c.config.GetInt(fileKey)
	}

	return fallback
}

func (c *Config) getBool(envKey string, fileKey string) bool {
	if c.config.IsSet(envKey) {
		return c.config.GetBool(envKey)
	}

	return c.config.GetBool(fileKey)
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}
