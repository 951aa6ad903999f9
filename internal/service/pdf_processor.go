package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"kitaabse-pipeline/internal/domain"

	"github.com/gen2brain/go-fitz"
)

// RenderDPI is the raster resolution used by the OCR and vision strategies.
const RenderDPI = 150

// pageSource is the subset of *fitz.Document the extractors need.
type pageSource interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Metadata() map[string]string
	Close() error
}

type openFunc func(pdf []byte) (pageSource, error)

func openFitz(pdf []byte) (pageSource, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// pageFunc produces the raw text of the zero-based page idx.
type pageFunc func(ctx context.Context, src pageSource, idx int) (string, error)

// PDFProcessor walks a PDF page by page, isolating each page behind a timeout
// so one bad page never fails the document.
type PDFProcessor struct {
	logger      domain.Logger
	open        openFunc
	pageTimeout time.Duration
}

// NewPDFProcessor creates a new PDF processor
func NewPDFProcessor(logger domain.Logger, pageTimeout time.Duration) *PDFProcessor {
	if pageTimeout <= 0 {
		pageTimeout = 90 * time.Second
	}
	return &PDFProcessor{
		logger:      logger,
		open:        openFitz,
		pageTimeout: pageTimeout,
	}
}

// process opens pdf and runs fn for every page in order. Failed or timed out
// pages yield empty text. Only an unreadable document or a cancelled context
// return an error.
func (p *PDFProcessor) process(
	ctx context.Context,
	pdf []byte,
	strategy string,
	progress chan<- domain.PageProgress,
	fn pageFunc,
) (*domain.ExtractionResult, error) {
	src, err := p.open(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open PDF: %v", domain.ErrInvalidDocument, err)
	}
	defer src.Close()

	total := src.NumPage()
	meta := src.Metadata()
	result := &domain.ExtractionResult{
		TotalPages: total,
		Pages:      make([]domain.ExtractedPage, 0, total),
		Title:      meta["title"],
		Author:     meta["author"],
	}

	for idx := 0; idx < total; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.logger.Debug("Extracting page", "strategy", strategy, "page", idx+1, "total", total)

		text, err := p.runPage(ctx, src, idx, fn)
		if err != nil {
			p.logger.Warn("Page extraction failed; using empty page", "strategy", strategy, "page", idx+1, "total", total, "error", err)
			text = ""
		}
		text = NormalizeText(text)
		result.Pages = append(result.Pages, domain.ExtractedPage{Number: idx + 1, Text: text})

		if progress != nil {
			select {
			case progress <- domain.PageProgress{Page: idx + 1, Total: total, Chars: len([]rune(text))}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return result, nil
}

func (p *PDFProcessor) runPage(ctx context.Context, src pageSource, idx int, fn pageFunc) (string, error) {
	type pageResult struct {
		text string
		err  error
	}

	pageCtx, cancel := context.WithTimeout(ctx, p.pageTimeout)
	defer cancel()

	resultCh := make(chan pageResult, 1)
	go func() {
		t, e := fn(pageCtx, src, idx)
		resultCh <- pageResult{text: t, err: e}
	}()

	select {
	case res := <-resultCh:
		return res.text, res.err
	case <-pageCtx.Done():
		return "", fmt.Errorf("page %d: timeout after %v: %w", idx+1, p.pageTimeout, pageCtx.Err())
	}
}

// TextExtractor reads the embedded text layer. Fastest, but blind to scans.
type TextExtractor struct {
	proc *PDFProcessor
}

// NewTextExtractor creates the plain-text strategy
func NewTextExtractor(proc *PDFProcessor) *TextExtractor {
	return &TextExtractor{proc: proc}
}

func (e *TextExtractor) Name() string { return "text" }

func (e *TextExtractor) Extract(
	ctx context.Context,
	pdf []byte,
	_ domain.Language,
	progress chan<- domain.PageProgress,
) (*domain.ExtractionResult, error) {
	return e.proc.process(ctx, pdf, e.Name(), progress, func(_ context.Context, src pageSource, idx int) (string, error) {
		return src.Text(idx)
	})
}
