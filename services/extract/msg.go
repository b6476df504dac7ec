package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MAPI property streams of an Outlook .msg compound file. The 001F suffix
// is a UTF-16LE string, 001E an 8-bit string in the message code page.
const (
	msgSubjectUnicode = "__substg1.0_0037001F"
	msgSubjectANSI    = "__substg1.0_0037001E"
	msgBodyUnicode    = "__substg1.0_1000001F"
	msgBodyANSI       = "__substg1.0_1000001E"
)

type mailMessageStrategy struct{}

func (s *mailMessageStrategy) Extract(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		return extractEML(ctx, path)
	default:
		return extractMSG(ctx, path)
	}
}

func extractMSG(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", newError(ReadFailure, path, err)
	}
	defer file.Close()

	reader, err := mscfb.New(file)
	if err != nil {
		return "", newError(CorruptDocument, path, fmt.Errorf("not an outlook message: %w", err))
	}

	streams := make(map[string][]byte, 4)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", newError(CorruptDocument, path, err)
		}

		// Property streams of attachments and recipients live in storages
		// below the root; only the message's own properties are wanted.
		if len(entry.Path) > 0 || !isMessageStream(entry.Name) {
			continue
		}

		data := make([]byte, entry.Size)
		n, err := io.ReadFull(entry, data)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", newError(CorruptDocument, path, err)
		}
		streams[entry.Name] = data[:n]
	}

	return messageText(streams), nil
}

func isMessageStream(name string) bool {
	switch name {
	case msgSubjectUnicode, msgSubjectANSI, msgBodyUnicode, msgBodyANSI:
		return true
	}
	return false
}

// messageText joins subject and body, preferring the Unicode variant of each.
func messageText(streams map[string][]byte) string {
	subject := propertyString(streams, msgSubjectUnicode, msgSubjectANSI)
	body := propertyString(streams, msgBodyUnicode, msgBodyANSI)
	return subject + " " + body
}

func propertyString(streams map[string][]byte, unicodeName string, ansiName string) string {
	if data, ok := streams[unicodeName]; ok {
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
		if err == nil {
			return strings.TrimRight(dropInvalid(string(decoded)), "\x00")
		}
	}
	if data, ok := streams[ansiName]; ok {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err == nil {
			return strings.TrimRight(string(decoded), "\x00")
		}
	}
	return ""
}
