package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlian/merlian/internal/config"
)

func TestNew_SelectsEngine(t *testing.T) {
	e, err := New(config.OCRConfig{Enabled: false, Engine: "tesseract"})
	require.NoError(t, err)
	assert.Equal(t, "none", e.Name())

	e, err = New(config.OCRConfig{Enabled: true, Engine: "tesseract", Lang: "eng"})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", e.Name())

	_, err = New(config.OCRConfig{Enabled: true, Engine: "vision"})
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Total $42.00", Clean("  Total\n\n $42.00 \f"))
	assert.Equal(t, "", Clean("\n\t "))
}

func TestStatic(t *testing.T) {
	s := NewStatic(map[string]string{"/a.png": "hello"})
	got, err := s.Extract(context.Background(), "/a.png")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = s.Extract(context.Background(), "/b.png")
	require.NoError(t, err)
	assert.Empty(t, got)

	s.Fail("/a.png", errors.New("boom"))
	_, err = s.Extract(context.Background(), "/a.png")
	assert.Error(t, err)
}

func TestTesseract_MissingBinary(t *testing.T) {
	tess := NewTesseract("definitely-not-a-tesseract-binary", "eng")
	assert.False(t, tess.Available())
	_, err := tess.Extract(context.Background(), "/nope.png")
	assert.Error(t, err)
}
