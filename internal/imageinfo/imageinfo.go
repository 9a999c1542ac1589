// Package imageinfo derives per-image signals used for ranking: pixel
// dimensions, a perceptual quality proxy, a difference hash for near-duplicate
// grouping and a text-density estimate.
package imageinfo

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/bits"
	"os"
	"strconv"
	"unicode"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is used when an image cannot be decoded.
const DefaultQuality = 0.5

const (
	minPixels  = 320 * 240
	fullPixels = 3840 * 2160
	glyphArea  = 10 * 18
)

// Info holds the signals derived from one decoded image.
type Info struct {
	Width   int
	Height  int
	Quality float64
	DHash   uint64
}

// Probe decodes path and derives its Info.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Info{}, fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage derives Info from an already-decoded image.
func FromImage(img image.Image) Info {
	b := img.Bounds()
	return Info{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: Quality(img),
		DHash:   DHash(img),
	}
}

func grayscale(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// DHash computes a 64-bit difference hash: each bit records whether a pixel is
// darker than its right neighbour on a 9x8 grayscale thumbnail.
func DHash(img image.Image) uint64 {
	g := grayscale(img, 9, 8)
	var h uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			h <<= 1
			if g.GrayAt(x, y).Y < g.GrayAt(x+1, y).Y {
				h |= 1
			}
		}
	}
	return h
}

// minHashBits is the fewest set (and unset) bits a hash needs to describe a
// layout. Solid fills and dark, thin-text screenshots hash to all zeros.
const minHashBits = 8

// HashHasDetail reports whether h carries enough gradient structure to
// compare images by. Near-uniform images all hash alike.
func HashHasDetail(h uint64) bool {
	n := bits.OnesCount64(h)
	return n >= minHashBits && n <= 64-minHashBits
}

// Distance returns the Hamming distance between two hashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// FormatHash renders h as 16 hex digits.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash parses the output of FormatHash.
func ParseHash(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

// Quality blends a resolution score with a sharpness score (variance of the
// Laplacian on a 64x64 thumbnail). The result is in [0, 1].
func Quality(img image.Image) float64 {
	b := img.Bounds()
	px := float64(b.Dx() * b.Dy())
	if px <= 0 {
		return DefaultQuality
	}
	res := (math.Log2(px) - math.Log2(minPixels)) / (math.Log2(fullPixels) - math.Log2(minPixels))
	res = clamp01(res)

	g := grayscale(img, 64, 64)
	var sum, sumSq float64
	n := 0
	for y := 1; y < 63; y++ {
		for x := 1; x < 63; x++ {
			c := float64(g.GrayAt(x, y).Y)
			lap := float64(g.GrayAt(x-1, y).Y) + float64(g.GrayAt(x+1, y).Y) +
				float64(g.GrayAt(x, y-1).Y) + float64(g.GrayAt(x, y+1).Y) - 4*c
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	sharp := variance / (variance + 300)

	return clamp01(0.4*res + 0.6*sharp)
}

// TextDensity estimates the fraction of the image covered by recognised text.
// Width or height of 0 means unknown dimensions.
func TextDensity(text string, width, height int) float64 {
	chars := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			chars++
		}
	}
	if chars == 0 {
		return 0
	}
	if width <= 0 || height <= 0 {
		return clamp01(float64(chars) / 1500)
	}
	return clamp01(float64(chars*glyphArea) / float64(width*height))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
