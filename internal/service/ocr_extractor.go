package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"kitaabse-pipeline/internal/domain"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// OCRLanguage maps a document language onto a Tesseract profile.
func OCRLanguage(lang domain.Language) string {
	switch lang {
	case domain.LanguageEnglish:
		return "eng"
	default:
		// hindi, hinglish and anything without a trained profile
		return "hin+eng"
	}
}

// OCREngine recognizes text in an encoded page image.
type OCREngine interface {
	Recognize(ctx context.Context, img []byte, languages string) (string, error)
}

// TesseractEngine runs Tesseract through gosseract. A client is created per
// call because gosseract clients are not safe for concurrent use.
type TesseractEngine struct{}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{}
}

func (t *TesseractEngine) Recognize(ctx context.Context, img []byte, languages string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(languages, "+")...); err != nil {
		return "", fmt.Errorf("set ocr language %q: %w", languages, err)
	}
	// PSM 6: assume a single uniform block of text.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	return client.Text()
}

// OCRExtractor rasterizes each page and recognizes it with an OCR engine.
type OCRExtractor struct {
	proc   *PDFProcessor
	engine OCREngine
}

// NewOCRExtractor creates the bitmap OCR strategy
func NewOCRExtractor(proc *PDFProcessor, engine OCREngine) *OCRExtractor {
	return &OCRExtractor{proc: proc, engine: engine}
}

func (e *OCRExtractor) Name() string { return "ocr" }

func (e *OCRExtractor) Extract(
	ctx context.Context,
	pdf []byte,
	lang domain.Language,
	progress chan<- domain.PageProgress,
) (*domain.ExtractionResult, error) {
	profile := OCRLanguage(lang)
	return e.proc.process(ctx, pdf, e.Name(), progress, func(ctx context.Context, src pageSource, idx int) (string, error) {
		img, err := src.ImageDPI(idx, RenderDPI)
		if err != nil {
			return "", fmt.Errorf("render page %d: %w", idx+1, err)
		}
		encoded, err := encodeImage(img, imaging.PNG)
		if err != nil {
			return "", err
		}
		return e.engine.Recognize(ctx, encoded, profile)
	})
}

func encodeImage(img image.Image, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	return buf.Bytes(), nil
}
