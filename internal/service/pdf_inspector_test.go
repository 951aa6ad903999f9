package service

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"kitaabse-pipeline/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFInspector_Validate(t *testing.T) {
	insp := NewPDFInspector()

	pages, err := insp.Validate(buildTestPDF("one", "two"))
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	_, err = insp.Validate(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	_, err = insp.Validate([]byte("this is not a pdf"))
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	_, err = insp.Validate(buildTestPDF())
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)
}

func TestPDFInspector_CoverFitsBounds(t *testing.T) {
	insp := NewPDFInspector()
	insp.open = (&fakeOpener{src: &fakeSource{texts: []string{""}, imgSize: image.Pt(1275, 1650)}}).open

	cover, err := insp.Cover([]byte("%PDF"))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(cover))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 400)
	assert.LessOrEqual(t, cfg.Height, 600)
	assert.Equal(t, 400, cfg.Width)
}

func TestPDFInspector_CoverRealPDF(t *testing.T) {
	cover, err := NewPDFInspector().Cover(buildTestPDF("Cover"))
	require.NoError(t, err)
	_, err = jpeg.DecodeConfig(bytes.NewReader(cover))
	require.NoError(t, err)
}

type fakeOpener struct{ src *fakeSource }

func (o *fakeOpener) open([]byte) (pageSource, error) { return o.src, nil }
