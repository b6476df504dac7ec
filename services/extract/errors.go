package extract

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	UnsupportedFormat     ErrorKind = "unsupported_format"
	CorruptDocument       ErrorKind = "corrupt_document"
	PageExtractionFailure ErrorKind = "page_extraction_failure"
	OcrUnavailable        ErrorKind = "ocr_unavailable"
	ReadFailure           ErrorKind = "read_failure"
)

// ErrOCRUnavailable is returned by an OCR backend that cannot run at all.
var ErrOCRUnavailable = errors.New("ocr backend unavailable")

type ExtractionError struct {
	Path string
	Kind ErrorKind
	// Page is the 1-based PDF page, zero when the error is not page-local.
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s: %s on page %d: %v", e.Kind, e.Path, e.Page, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an extraction error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return extractionErr.Kind
	}
	return ""
}

func newError(kind ErrorKind, path string, err error) *ExtractionError {
	return &ExtractionError{Path: path, Kind: kind, Err: err}
}
