package extract

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/meghashyamc/doccatalog/logger"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const defaultMaxTextBytes = 10 * 1024 * 1024

type textStrategy struct {
	logger   logger.Logger
	maxBytes int64
}

// Extract reads at most maxBytes of the file and logs a warning when the
// rest is left out. A UTF-16 or UTF-8 byte order
// mark selects the encoding; anything that is not valid text is dropped.
func (s *textStrategy) Extract(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", newError(ReadFailure, path, err)
	}
	defer file.Close()

	limit := s.maxBytes
	if limit <= 0 {
		limit = defaultMaxTextBytes
	}

	raw, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return "", newError(ReadFailure, path, err)
	}
	if int64(len(raw)) > limit {
		raw = raw[:limit]
		if s.logger != nil {
			s.logger.Warn("text file exceeds size limit, indexing truncated content", "path", path, "max_text_bytes", limit)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return decodeText(raw), nil
}

func decodeText(raw []byte) string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		decoded = raw
	}

	return dropInvalid(string(decoded))
}

// dropInvalid removes invalid UTF-8 and the replacement characters a
// decoder substituted for it.
func dropInvalid(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\uFFFD", "")
}
