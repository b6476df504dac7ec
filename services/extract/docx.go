package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

type docxStrategy struct{}

func (s *docxStrategy) Extract(ctx context.Context, path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", newError(CorruptDocument, path, fmt.Errorf("not a docx archive: %w", err))
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != docxBodyPart {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", newError(CorruptDocument, path, err)
		}
		defer rc.Close()

		text, err := parseDocumentXML(ctx, rc)
		if err != nil {
			return "", newError(CorruptDocument, path, err)
		}
		return text, nil
	}

	return "", newError(CorruptDocument, path, errors.New("missing "+docxBodyPart))
}

// parseDocumentXML walks the WordprocessingML body as a token stream, so
// large documents are never unmarshalled into memory at once.
func parseDocumentXML(ctx context.Context, r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var result strings.Builder
	inText := false
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document xml: %w", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "t":
				inText = true
			case "tab":
				result.WriteByte('\t')
			case "br", "cr":
				result.WriteByte('\n')
			}
		case xml.EndElement:
			switch element.Name.Local {
			case "t":
				inText = false
			case "p":
				result.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				result.Write(element)
			}
		}
	}

	return strings.TrimSpace(result.String()), nil
}
