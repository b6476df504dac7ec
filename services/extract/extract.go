package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/meghashyamc/doccatalog/config"
	"github.com/meghashyamc/doccatalog/logger"
)

// Kind is the extraction strategy a file is routed to.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
	KindOffice
	KindMailMessage
	KindMailArchive
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPDF:
		return "pdf"
	case KindOffice:
		return "office"
	case KindMailMessage:
		return "mail_message"
	case KindMailArchive:
		return "mail_archive"
	default:
		return "unknown"
	}
}

var kindsByExtension = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindOffice,
	".msg":  KindMailMessage,
	".eml":  KindMailMessage,
	".pst":  KindMailArchive,
	".ost":  KindMailArchive,
}

// Every other supported extension is read as plain text.
func init() {
	for _, ext := range config.DefaultExtensions {
		if _, ok := kindsByExtension[ext]; !ok {
			kindsByExtension[ext] = KindText
		}
	}
}

// Classify maps a path to its strategy by lowercased extension.
func Classify(path string) Kind {
	return kindsByExtension[strings.ToLower(filepath.Ext(path))]
}

// Strategy extracts the searchable text of one format.
type Strategy interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Options struct {
	MaxTextBytes   int64
	MinPageChars   int
	MaxFolderDepth int
	OCR            OCR
}

// OptionsFromConfig builds extractor options, including the OCR backend.
func OptionsFromConfig(logger logger.Logger, cfg *config.Config) Options {
	var ocr OCR = unavailableOCR{}
	if cfg.GetOCREnabled() {
		ocr = NewTesseract(logger, TesseractOptions{
			TesseractPath: cfg.GetTesseractPath(),
			PdftoppmPath:  cfg.GetPdftoppmPath(),
			Languages:     cfg.GetOCRLanguages(),
			DPI:           cfg.GetOCRDPI(),
		})
	}

	return Options{
		MaxTextBytes:   cfg.GetMaxTextBytes(),
		MinPageChars:   cfg.GetMinPageChars(),
		MaxFolderDepth: cfg.GetMaxFolderDepth(),
		OCR:            ocr,
	}
}

type Extractor struct {
	logger     logger.Logger
	strategies map[Kind]Strategy
}

func New(logger logger.Logger, options Options) *Extractor {
	if options.OCR == nil {
		options.OCR = unavailableOCR{}
	}

	return &Extractor{
		logger: logger,
		strategies: map[Kind]Strategy{
			KindText:        &textStrategy{logger: logger, maxBytes: options.MaxTextBytes},
			KindPDF:         newPDFStrategy(logger, openLedongthucPDF, options.OCR, options.MinPageChars),
			KindOffice:      &docxStrategy{},
			KindMailMessage: &mailMessageStrategy{},
			KindMailArchive: newMailArchiveStrategy(logger, openPSTArchive, options.MaxFolderDepth),
		},
	}
}

// WithStrategy replaces the strategy used for kind.
func (e *Extractor) WithStrategy(kind Kind, strategy Strategy) *Extractor {
	e.strategies[kind] = strategy
	return e
}

// Extract returns the searchable text of path. Every failure is logged and
// returned as an *ExtractionError; callers treat an error or "" as no content.
func (e *Extractor) Extract(ctx context.Context, path string) (text string, err error) {
	kind := Classify(path)
	strategy, ok := e.strategies[kind]
	if !ok {
		err := newError(UnsupportedFormat, path, fmt.Errorf("no extractor for extension %q", filepath.Ext(path)))
		e.logger.Debug("skipping unsupported file", "path", path)
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("parser panicked", "path", path, "kind", kind.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			text = ""
			err = newError(CorruptDocument, path, fmt.Errorf("parser panic: %v", r))
		}
	}()

	text, err = strategy.Extract(ctx, path)
	if err != nil {
		err = normaliseError(path, err)
		e.logger.Error("could not extract content", "path", path, "kind", kind.String(), "err", err.Error())
		return "", err
	}

	return text, nil
}

func normaliseError(path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		if extractionErr.Path == "" {
			extractionErr.Path = path
		}
		return extractionErr
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return newError(ReadFailure, path, err)
	}

	return newError(CorruptDocument, path, err)
}
