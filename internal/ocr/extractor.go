// Package ocr defines the text-extraction oracle and its adapters.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/merlian/merlian/internal/config"
)

// Extractor returns the text recognised in an image. An image without text
// yields "" and a nil error.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, path string) (string, error)
}

// New returns the extractor selected by cfg. A disabled config yields None.
func New(cfg config.OCRConfig) (Extractor, error) {
	if !cfg.Enabled {
		return None{}, nil
	}
	switch cfg.Engine {
	case "", "none":
		return None{}, nil
	case "tesseract":
		return NewTesseract(cfg.Binary, cfg.Lang), nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %s", cfg.Engine)
	}
}

// None never recognises any text.
type None struct{}

func (None) Name() string { return "none" }

func (None) Extract(context.Context, string) (string, error) { return "", nil }

// Tesseract shells out to the tesseract CLI.
type Tesseract struct {
	binary string
	lang   string
}

// NewTesseract returns a tesseract-backed extractor.
func NewTesseract(binary, lang string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{binary: binary, lang: lang}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Available reports whether the binary is on PATH.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

func (t *Tesseract) Extract(ctx context.Context, path string) (string, error) {
	args := []string{path, "stdout"}
	if t.lang != "" {
		args = append(args, "-l", t.lang)
	}
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return Clean(stdout.String()), nil
}

// Clean collapses whitespace runs and trims the result.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Static serves fixed text per path. Unknown paths have no text.
type Static struct {
	mu    sync.RWMutex
	texts map[string]string
	fail  map[string]error
}

// NewStatic returns a Static extractor seeded with texts.
func NewStatic(texts map[string]string) *Static {
	s := &Static{texts: map[string]string{}, fail: map[string]error{}}
	for k, v := range texts {
		s.texts[k] = v
	}
	return s
}

// Set assigns the text for path.
func (s *Static) Set(path, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[path] = text
}

// Fail makes Extract return err for path.
func (s *Static) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[path] = err
}

func (s *Static) Name() string { return "static" }

func (s *Static) Extract(_ context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail[path]; err != nil {
		return "", err
	}
	return s.texts[path], nil
}
