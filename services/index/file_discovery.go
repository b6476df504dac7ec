package index

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meghashyamc/doccatalog/logger"
)

type FileInfo struct {
	Path      string
	Name      string
	Size      int64
	ModTime   time.Time
	Extension string
}

type ScanResult struct {
	// Stale files are absent from the snapshot or carry a different mtime.
	Stale []FileInfo
	// Seen holds every candidate path, stale or not.
	Seen      map[string]struct{}
	Processed int
	Skipped   int
}

// Scanner finds candidate files under a source root and compares them to
// the committed index snapshot.
type Scanner struct {
	logger     logger.Logger
	extensions map[string]struct{}
	skipHidden bool
}

// NewScanner builds a scanner for the given extensions. Hidden files and
// directories are candidates unless skipHidden is set.
func NewScanner(logger logger.Logger, extensions []string, skipHidden bool) *Scanner {
	extensionSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensionSet[ext] = struct{}{}
	}
	return &Scanner{logger: logger, extensions: extensionSet, skipHidden: skipHidden}
}

// Scan walks rootPath, leaving out the directories in exclude. Symlinked
// files are followed; symlinked directories are not.
func (s *Scanner) Scan(ctx context.Context, rootPath string, snapshot map[string]time.Time, exclude ...string) (*ScanResult, error) {
	result := &ScanResult{Seen: make(map[string]struct{})}
	excluded := make(map[string]struct{}, len(exclude))
	for _, dir := range exclude {
		excluded[filepath.Clean(dir)] = struct{}{}
	}

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			s.logger.Error("could not walk through file or directory", "path", path, "err", err.Error())
			if path == rootPath {
				return err
			}
			// unreadable directories are skipped, the rest of the tree is still scanned
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == rootPath {
				return nil
			}
			if _, ok := excluded[filepath.Clean(path)]; ok {
				return filepath.SkipDir
			}
			if s.skipHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if s.skipHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		extension := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := s.extensions[extension]; !ok {
			return nil
		}

		info, err := s.stat(path, d)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Error("could not stat file", "path", path, "err", err.Error())
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		result.Processed++
		result.Seen[path] = struct{}{}

		if !isStale(info.ModTime(), snapshot, path) {
			result.Skipped++
			return nil
		}

		result.Stale = append(result.Stale, FileInfo{
			Path:      path,
			Name:      d.Name(),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Extension: extension,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// stat describes the file at path, resolving a symlink to its target.
func (s *Scanner) stat(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return d.Info()
}

func isStale(fileModTime time.Time, snapshot map[string]time.Time, path string) bool {
	indexedModTime, ok := snapshot[path]
	if !ok {
		return true
	}
	return !fileModTime.Equal(indexedModTime)
}
