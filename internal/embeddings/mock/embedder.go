// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"

	"github.com/merlian/merlian/internal/embeddings"
)

// Embedder is a test double for embeddings.Provider.
//
// Fixed vectors can be pinned per text or per image path; everything else gets
// a deterministic vector seeded from an FNV hash of the input. Paths listed in
// Fail return an error from EmbedImage.
type Embedder struct {
	ID        embeddings.Identity
	Dimension int

	mu     sync.Mutex
	texts  map[string][]float32
	images map[string][]float32
	fail   map[string]bool

	textCalls  atomic.Int64
	imageCalls atomic.Int64
}

// NewEmbedder returns a mock producing dim-length vectors.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{
		ID:        embeddings.Identity{Name: "mock-clip", Variant: "test"},
		Dimension: dim,
		texts:     map[string][]float32{},
		images:    map[string][]float32{},
		fail:      map[string]bool{},
	}
}

// SetText pins the (normalised) vector returned for text.
func (m *Embedder) SetText(text string, v []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[text] = embeddings.NormalizeL2(v)
}

// SetImage pins the (normalised) vector returned for an image path.
func (m *Embedder) SetImage(path string, v []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = embeddings.NormalizeL2(v)
}

// FailImage makes EmbedImage fail for path.
func (m *Embedder) FailImage(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[path] = true
}

func (m *Embedder) Model() embeddings.Identity { return m.ID }

func (m *Embedder) Dim() int { return m.Dimension }

func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.textCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	v, ok := m.texts[text]
	m.mu.Unlock()
	if ok {
		return append([]float32(nil), v...), nil
	}
	return Vector("text:"+text, m.Dimension), nil
}

func (m *Embedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	m.imageCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	v, pinned := m.images[path]
	failing := m.fail[path]
	m.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("mock: cannot embed %s", path)
	}
	if pinned {
		return append([]float32(nil), v...), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Vector("image:"+string(raw), m.Dimension), nil
}

// TextCalls returns how many times EmbedText was called.
func (m *Embedder) TextCalls() int { return int(m.textCalls.Load()) }

// ImageCalls returns how many times EmbedImage was called.
func (m *Embedder) ImageCalls() int { return int(m.imageCalls.Load()) }

// Vector creates a deterministic unit vector from seed.
func Vector(seed string, dim int) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum32()

	v := make([]float32, dim)
	for i := range v {
		s = s*1664525 + 1013904223
		v[i] = float32(s%1000)/1000.0 - 0.5
	}
	return embeddings.NormalizeL2(v)
}

var _ embeddings.Provider = (*Embedder)(nil)
