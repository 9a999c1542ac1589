package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Write writes index artifacts to dir.
func Write(dir string, manifest Manifest, vectors []float32) error {
	if manifest.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d", manifest.Dim)
	}
	if len(vectors) != len(manifest.Paths)*manifest.Dim {
		return fmt.Errorf("%w: got %d values want %d", ErrAlignment, len(vectors), len(manifest.Paths)*manifest.Dim)
	}
	if manifest.VectorFile == "" {
		manifest.VectorFile = defaultVectorFile
	}
	if manifest.IndexVersion == 0 {
		manifest.IndexVersion = Version
	}
	if manifest.UpdatedAt.IsZero() {
		manifest.UpdatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create index dir %s: %w", dir, err)
	}

	// vectors first, so a manifest never points at a missing file
	vf, err := os.Create(filepath.Join(dir, manifest.VectorFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	bw := bufio.NewWriter(vf)
	if err := binary.Write(bw, binary.LittleEndian, vectors); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = vf.Close()
		return err
	}
	if err := vf.Close(); err != nil {
		return err
	}

	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}
	return nil
}

// Publish writes the index into a sibling temp dir and swaps it into dir, so
// readers observe either the old or the new index.
func Publish(dir string, manifest Manifest, vectors []float32) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp index dir: %w", err)
	}
	if err := Write(tmp, manifest, vectors); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	if err := AtomicSwap(tmp, dir); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("cannot publish index: %w", err)
	}
	return nil
}

// AtomicSwap replaces destDir with srcDir by renaming.
func AtomicSwap(srcDir, destDir string) error {
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		// rollback best-effort
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}

// Remove deletes a published index.
func Remove(dir string) error {
	_ = os.RemoveAll(dir + ".bak")
	return os.RemoveAll(dir)
}
