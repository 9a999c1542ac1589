// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WritePNG writes a w x h PNG at path whose pixels are a pattern derived from
// seed, so different seeds give visually different images.
func WritePNG(t testing.TB, path string, w, h int, seed uint32) string {
	t.Helper()
	return WriteImage(t, path, Pattern(w, h, seed))
}

// WriteImage encodes img as PNG at path.
func WriteImage(t testing.TB, path string, img image.Image) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// Pattern returns a deterministic RGBA image.
func Pattern(w, h int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	s := seed*2654435761 + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s = s*1664525 + 1013904223
			band := uint8((x*int(seed%7+1) + y*int(seed%5+1)) * 255 / (w + h))
			img.Set(x, y, color.RGBA{R: band, G: uint8(s >> 24), B: uint8(255 - band), A: 255})
		}
	}
	return img
}

// Solid returns a single-colour image.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Stripes returns vertical black and white bars of the given width. With
// w = 9*width every column of a 9x8 thumbnail falls on one bar.
func Stripes(w, h, width int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if (x/width)%2 == 1 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// Touch sets the modification time of path.
func Touch(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}
