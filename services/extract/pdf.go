package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/meghashyamc/doccatalog/logger"
)

const defaultMinPageChars = 15

// pdfDocument is the part of a PDF reader the page loop needs. Pages are 1-based.
type pdfDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	Close() error
}

type pdfOpener func(path string) (pdfDocument, error)

type pdfStrategy struct {
	logger       logger.Logger
	open         pdfOpener
	ocr          OCR
	minPageChars int
}

func newPDFStrategy(logger logger.Logger, open pdfOpener, ocr OCR, minPageChars int) *pdfStrategy {
	if minPageChars <= 0 {
		minPageChars = defaultMinPageChars
	}
	return &pdfStrategy{logger: logger, open: open, ocr: ocr, minPageChars: minPageChars}
}

// Extract concatenates the pages in order. A page whose text layer is too thin
// is replaced by its OCR output; a page that fails contributes nothing.
func (s *pdfStrategy) Extract(ctx context.Context, path string) (string, error) {
	doc, err := s.open(path)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	numPages := doc.NumPages()
	if numPages == 0 {
		s.logger.Debug("pdf has no pages", "path", path)
		return "", nil
	}

	var result strings.Builder
	for page := 1; page <= numPages; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := s.pageText(ctx, doc, path, page)
		if err != nil {
			s.logger.Error("skipping pdf page", "path", path, "page", page, "err", err.Error())
			continue
		}
		result.WriteString(text)
		result.WriteByte('\n')
	}

	return result.String(), nil
}

func (s *pdfStrategy) pageText(ctx context.Context, doc pdfDocument, path string, page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Path: path, Kind: PageExtractionFailure, Page: page, Err: fmt.Errorf("page parser panic: %v", r)}
		}
	}()

	text, err = doc.PageText(page)
	if err != nil {
		return "", &ExtractionError{Path: path, Kind: PageExtractionFailure, Page: page, Err: err}
	}

	if countVisible(text) >= s.minPageChars {
		return text, nil
	}

	s.logger.Debug("page has no usable text layer, running ocr", "path", path, "page", page)
	text, err = s.ocr.RecognizePage(ctx, path, page)
	if err != nil {
		kind := PageExtractionFailure
		if isOCRUnavailable(err) {
			kind = OcrUnavailable
		}
		return "", &ExtractionError{Path: path, Kind: kind, Page: page, Err: err}
	}

	return text, nil
}

func countVisible(text string) int {
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

type ledongthucPDF struct {
	closer interface{ Close() error }
	reader *pdf.Reader
}

func openLedongthucPDF(path string) (pdfDocument, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		if file != nil {
			file.Close()
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, newError(ReadFailure, path, err)
		}
		return nil, newError(CorruptDocument, path, err)
	}
	return &ledongthucPDF{closer: file, reader: reader}, nil
}

func (d *ledongthucPDF) NumPages() int {
	return d.reader.NumPage()
}

func (d *ledongthucPDF) PageText(page int) (string, error) {
	p := d.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (d *ledongthucPDF) Close() error {
	return d.closer.Close()
}
