package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	htmlPolicy  = bluemonday.StrictPolicy()
	wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}
)

func extractEML(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", newError(ReadFailure, path, err)
	}
	defer file.Close()

	msg, err := mail.ReadMessage(file)
	if err != nil {
		return "", newError(CorruptDocument, path, fmt.Errorf("not a mail message: %w", err))
	}

	subject := decodeHeader(msg.Header.Get("Subject"))

	body, err := partText(ctx, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return "", newError(CorruptDocument, path, err)
	}

	return subject + " " + body, nil
}

func decodeHeader(header string) string {
	if header == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// partText returns the readable text of one MIME entity. Multipart bodies
// prefer text/plain parts and fall back to stripped text/html.
func partText(ctx context.Context, contentType string, transferEncoding string, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return multipartText(ctx, body, params["boundary"])
	}
	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}

	raw, err := io.ReadAll(transferDecoder(transferEncoding, body))
	if err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}

	text := decodeCharset(params["charset"], raw)
	if mediaType == "text/html" {
		return stripHTML(text), nil
	}
	return text, nil
}

func multipartText(ctx context.Context, body io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", nil
	}

	reader := multipart.NewReader(body, boundary)
	var textParts, htmlParts []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed multipart body: %w", err)
		}

		contentType := part.Header.Get("Content-Type")
		text, err := partText(ctx, contentType, part.Header.Get("Content-Transfer-Encoding"), part)
		part.Close()
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}

		if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
			htmlParts = append(htmlParts, text)
		} else {
			textParts = append(textParts, text)
		}
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n"), nil
	}
	return strings.Join(htmlParts, "\n"), nil
}

// multipart.Reader already strips quoted-printable, so only top-level bodies
// and base64 parts need it here.
func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

func decodeCharset(charset string, raw []byte) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
		return dropInvalid(string(raw))
	}

	encoding, err := htmlindex.Get(charset)
	if err != nil {
		return dropInvalid(string(raw))
	}
	decoded, err := encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return dropInvalid(string(raw))
	}
	return dropInvalid(string(decoded))
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	encoding, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return encoding.NewDecoder().Reader(input), nil
}

func stripHTML(body string) string {
	// keep words in adjacent block elements apart
	body = strings.ReplaceAll(body, "<", " <")
	text := html.UnescapeString(htmlPolicy.Sanitize(body))
	return strings.Join(strings.Fields(text), " ")
}
