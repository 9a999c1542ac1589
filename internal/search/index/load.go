package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Load reads an index from dir containing the manifest and vector file.
func Load(dir string) (*Index, error) {
	manifestPath := filepath.Join(dir, manifestFile)
	b, err := os.ReadFile(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotIndexed
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest %s: %w", manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON %s: %w", manifestPath, err)
	}
	if m.Dim <= 0 {
		return nil, fmt.Errorf("invalid dim in manifest: %d", m.Dim)
	}
	if m.VectorFile == "" {
		m.VectorFile = defaultVectorFile
	}

	vectors, err := loadVectors(filepath.Join(dir, m.VectorFile), len(m.Paths), m.Dim)
	if err != nil {
		return nil, err
	}
	return &Index{Manifest: m, Vectors: vectors}, nil
}

func loadVectors(path string, nPaths, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open vector file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vector file %s: %w", path, err)
	}
	expected := int64(nPaths) * int64(dim) * 4
	if st.Size() != expected {
		return nil, fmt.Errorf("%w: vector file is %d bytes, want %d (paths=%d dim=%d)",
			ErrAlignment, st.Size(), expected, nPaths, dim)
	}

	out := make([]float32, nPaths*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}
