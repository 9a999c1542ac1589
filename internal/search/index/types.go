package index

import (
	"time"

	"github.com/merlian/merlian/internal/embeddings"
)

// Version is the current on-disk index format.
const Version = 2

const (
	manifestFile      = "index_manifest.json"
	defaultVectorFile = "vectors.f32"
)

// Manifest describes a vector index and how to interpret it. Paths[i] owns
// the i-th dim-sized row of the vector file.
type Manifest struct {
	IndexVersion int                 `json:"index_version"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Model        embeddings.Identity `json:"model"`
	Device       string              `json:"device"`
	Roots        []string            `json:"roots"`
	Dim          int                 `json:"dim"`
	Normalize    bool                `json:"normalize"`
	VectorFile   string              `json:"vector_file"`
	Paths        []string            `json:"paths"`
}

// Index is a loaded vector index.
type Index struct {
	Manifest Manifest
	Vectors  []float32
}

// Len returns the number of indexed paths.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Manifest.Paths)
}

// Vector returns the i-th row. The slice aliases the index storage.
func (ix *Index) Vector(i int) []float32 {
	d := ix.Manifest.Dim
	return ix.Vectors[i*d : (i+1)*d]
}

// Map copies the index into a path-keyed map.
func (ix *Index) Map() map[string][]float32 {
	out := make(map[string][]float32, ix.Len())
	for i, p := range ix.Manifest.Paths {
		v := make([]float32, ix.Manifest.Dim)
		copy(v, ix.Vector(i))
		out[p] = v
	}
	return out
}
