package service

import (
	"context"
	"fmt"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"github.com/disintegration/imaging"
	"golang.org/x/time/rate"
)

const (
	// VisionMaxDimension bounds the longest side of images sent to the model.
	VisionMaxDimension = 1536
	// VisionPacing keeps requests under the model's requests-per-minute ceiling.
	VisionPacing = 5 * time.Second
	// VisionCooldown is waited once after a quota signal before the single retry.
	VisionCooldown = 60 * time.Second

	visionRetryPrompt = "Extract all text from this image."
)

const visionBasePrompt = `Extract ALL text from this image exactly as it appears.
Maintain the original formatting, line breaks, and paragraph structure.
Include all characters, numbers, punctuation marks, and special symbols.
`

// VisionPrompt returns the instruction sent with each page image.
func VisionPrompt(lang domain.Language) string {
	switch lang {
	case domain.LanguageHindi:
		return visionBasePrompt + `
This is a Hindi language document. Please:
- Accurately recognize all Hindi Devanagari characters including matras (vowel marks)
- Preserve the correct spelling and diacritical marks
- Maintain proper word spacing and sentence structure
- Include any English words that appear in the text

Return only the extracted text without any additional commentary or formatting markers.`
	case domain.LanguageHinglish:
		return visionBasePrompt + `
This is a bilingual document with Hindi and English text. Please:
- Accurately recognize both Hindi Devanagari and English Latin characters
- Preserve all matras (vowel marks) and diacritical marks in Hindi text
- Maintain proper spacing between Hindi and English words
- Keep the original language of each word

Return only the extracted text without any additional commentary or formatting markers.`
	default:
		return visionBasePrompt + `
Return only the extracted text without any additional commentary, formatting markers, or explanations.`
	}
}

// VisionModel reads text out of a JPEG page image.
type VisionModel interface {
	ExtractText(ctx context.Context, jpeg []byte, prompt string) (string, error)
}

// VisionExtractor sends downscaled page renders to a multimodal model.
type VisionExtractor struct {
	proc     *PDFProcessor
	model    VisionModel
	limiter  *rate.Limiter
	cooldown time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   domain.Logger
}

// NewVisionExtractor creates the vision-model strategy. pacing is the minimum
// gap between model requests.
func NewVisionExtractor(proc *PDFProcessor, model VisionModel, pacing time.Duration, logger domain.Logger) *VisionExtractor {
	if pacing <= 0 {
		pacing = VisionPacing
	}
	return &VisionExtractor{
		proc:     proc,
		model:    model,
		limiter:  rate.NewLimiter(rate.Every(pacing), 1),
		cooldown: VisionCooldown,
		sleep:    sleepCtx,
		logger:   logger,
	}
}

func (e *VisionExtractor) Name() string { return "vision" }

func (e *VisionExtractor) Extract(
	ctx context.Context,
	pdf []byte,
	lang domain.Language,
	progress chan<- domain.PageProgress,
) (*domain.ExtractionResult, error) {
	prompt := VisionPrompt(lang)
	return e.proc.process(ctx, pdf, e.Name(), progress, func(ctx context.Context, src pageSource, idx int) (string, error) {
		img, err := src.ImageDPI(idx, RenderDPI)
		if err != nil {
			return "", fmt.Errorf("render page %d: %w", idx+1, err)
		}
		scaled := imaging.Fit(img, VisionMaxDimension, VisionMaxDimension, imaging.Lanczos)
		encoded, err := encodeImage(scaled, imaging.JPEG, imaging.JPEGQuality(85))
		if err != nil {
			return "", err
		}
		return e.recognize(ctx, idx+1, encoded, prompt)
	})
}

// recognize paces the call and, on a quota signal, waits out the cooldown
// and retries once.
func (e *VisionExtractor) recognize(ctx context.Context, page int, img []byte, prompt string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	text, err := e.model.ExtractText(ctx, img, prompt)
	if err == nil {
		return text, nil
	}
	if !apperrors.IsRateLimited(err) {
		return "", err
	}

	e.logger.Warn("Vision quota exceeded; cooling down before retry", "page", page, "cooldown", e.cooldown)
	if err := e.sleep(ctx, e.cooldown); err != nil {
		return "", err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return e.model.ExtractText(ctx, img, visionRetryPrompt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
