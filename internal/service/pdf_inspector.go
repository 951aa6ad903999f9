package service

import (
	"bytes"
	"fmt"
	"strings"

	"kitaabse-pipeline/internal/domain"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	coverWidth   = 400
	coverHeight  = 600
	coverQuality = 85
)

// PDFInspector validates uploads and renders cover images.
type PDFInspector struct {
	open openFunc
}

func NewPDFInspector() *PDFInspector {
	return &PDFInspector{open: openFitz}
}

func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Validate rejects unreadable, encrypted and zero-page files and returns the
// page count.
func (i *PDFInspector) Validate(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, fmt.Errorf("%w: empty file", domain.ErrInvalidDocument)
	}

	ctx, err := api.ReadContext(bytes.NewReader(pdf), pdfcpuConfig())
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
			return 0, domain.ErrEncryptedDocument
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	if ctx.Encrypt != nil {
		return 0, domain.ErrEncryptedDocument
	}

	pages, err := api.PageCount(bytes.NewReader(pdf), pdfcpuConfig())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidDocument, domain.NoPagesMessage)
	}
	return pages, nil
}

// Cover renders the first page as a JPEG no larger than 400x600.
func (i *PDFInspector) Cover(pdf []byte) ([]byte, error) {
	src, err := i.open(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open PDF: %v", domain.ErrInvalidDocument, err)
	}
	defer src.Close()

	if src.NumPage() == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidDocument, domain.NoPagesMessage)
	}
	img, err := src.ImageDPI(0, RenderDPI)
	if err != nil {
		return nil, fmt.Errorf("render cover: %w", err)
	}
	thumb := imaging.Fit(img, coverWidth, coverHeight, imaging.Lanczos)
	return encodeImage(thumb, imaging.JPEG, imaging.JPEGQuality(coverQuality))
}
