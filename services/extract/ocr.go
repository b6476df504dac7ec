package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/meghashyamc/doccatalog/logger"
)

// OCR recognises the text of one rendered PDF page.
type OCR interface {
	RecognizePage(ctx context.Context, pdfPath string, page int) (string, error)
}

// CommandRunner executes an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(name), err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

type TesseractOptions struct {
	TesseractPath string
	PdftoppmPath  string
	Languages     string
	DPI           int
}

// Tesseract rasterises a page with pdftoppm and reads it with tesseract.
type Tesseract struct {
	logger   logger.Logger
	runner   CommandRunner
	lookPath func(string) (string, error)
	options  TesseractOptions
}

func NewTesseract(logger logger.Logger, options TesseractOptions) *Tesseract {
	return NewTesseractWithRunner(logger, options, execRunner{})
}

func NewTesseractWithRunner(logger logger.Logger, options TesseractOptions, runner CommandRunner) *Tesseract {
	if options.TesseractPath == "" {
		options.TesseractPath = "tesseract"
	}
	if options.PdftoppmPath == "" {
		options.PdftoppmPath = "pdftoppm"
	}
	if options.Languages == "" {
		options.Languages = "bul+eng"
	}
	if options.DPI <= 0 {
		options.DPI = 300
	}

	return &Tesseract{
		logger:   logger,
		runner:   runner,
		lookPath: exec.LookPath,
		options:  options,
	}
}

func (t *Tesseract) RecognizePage(ctx context.Context, pdfPath string, page int) (string, error) {
	pdftoppm, err := t.lookPath(t.options.PdftoppmPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrOCRUnavailable, t.options.PdftoppmPath)
	}
	tesseract, err := t.lookPath(t.options.TesseractPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrOCRUnavailable, t.options.TesseractPath)
	}

	workDir, err := os.MkdirTemp("", "doccatalog-ocr-")
	if err != nil {
		return "", fmt.Errorf("failed to create ocr work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	imagePrefix := filepath.Join(workDir, "page")
	pageArg := strconv.Itoa(page)
	_, err = t.runner.Run(ctx, pdftoppm,
		"-f", pageArg, "-l", pageArg,
		"-r", strconv.Itoa(t.options.DPI),
		"-png", "-singlefile",
		pdfPath, imagePrefix,
	)
	if err != nil {
		return "", fmt.Errorf("failed to rasterise page: %w", err)
	}

	out, err := t.runner.Run(ctx, tesseract, imagePrefix+".png", "stdout", "-l", t.options.Languages)
	if err != nil {
		return "", fmt.Errorf("failed to recognise page: %w", err)
	}

	return dropInvalid(string(out)), nil
}

type unavailableOCR struct{}

func (unavailableOCR) RecognizePage(context.Context, string, int) (string, error) {
	return "", fmt.Errorf("%w: disabled by configuration", ErrOCRUnavailable)
}

func isOCRUnavailable(err error) bool {
	return errors.Is(err, ErrOCRUnavailable)
}
