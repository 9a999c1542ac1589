package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/merlian/merlian/internal/embeddings"
)

func testManifest() Manifest {
	return Manifest{
		IndexVersion: Version,
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Model:        embeddings.Identity{Name: "ViT-B-32", Variant: "laion2b_s34b_b79k"},
		Device:       "cpu",
		Roots:        []string{"/pics"},
		Dim:          2,
		Normalize:    true,
		Paths:        []string{"/pics/a.png", "/pics/b.png"},
	}
}

func TestLoad_IndexHappyPath(t *testing.T) {
	dir := t.TempDir()
	m := testManifest()
	mb, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		t.Fatal(err)
	}

	vecFile, err := os.Create(filepath.Join(dir, defaultVectorFile))
	if err != nil {
		t.Fatal(err)
	}
	vectors := []float32{1, 0, 0, 1}
	if err := binary.Write(vecFile, binary.LittleEndian, vectors); err != nil {
		_ = vecFile.Close()
		t.Fatal(err)
	}
	_ = vecFile.Close()

	idx, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.Manifest.Dim != 2 {
		t.Fatalf("dim mismatch")
	}
	if idx.Len() != 2 {
		t.Fatalf("paths mismatch")
	}
	if got := idx.Vector(1); got[0] != 0 || got[1] != 1 {
		t.Fatalf("row 1 = %v", got)
	}
	if idx.Manifest.Model.Variant != "laion2b_s34b_b79k" {
		t.Fatalf("model identity not kept: %+v", idx.Manifest.Model)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "index"))
	if !errors.Is(err, ErrNotIndexed) {
		t.Fatalf("want ErrNotIndexed, got %v", err)
	}
}

func TestLoad_Misaligned(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, testManifest(), []float32{1, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	// drop one path from the manifest so it no longer matches the vector file
	m := testManifest()
	m.Paths = m.Paths[:1]
	mb, _ := json.Marshal(m)
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(dir)
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("want ErrAlignment, got %v", err)
	}
}

func TestWrite_RejectsMisaligned(t *testing.T) {
	err := Write(t.TempDir(), testManifest(), []float32{1, 0, 0})
	if !errors.Is(err, ErrAlignment) {
		t.Fatalf("want ErrAlignment, got %v", err)
	}
}

func TestPublish_ReplacesIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	if err := Publish(dir, testManifest(), []float32{1, 0, 0, 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	m := testManifest()
	m.Paths = []string{"/pics/c.png"}
	if err := Publish(dir, m, []float32{0.6, 0.8}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	idx, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.Len() != 1 || idx.Manifest.Paths[0] != "/pics/c.png" {
		t.Fatalf("unexpected paths %v", idx.Manifest.Paths)
	}
	if _, err := os.Stat(dir + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("backup dir left behind")
	}
	entries, _ := os.ReadDir(filepath.Dir(dir))
	if len(entries) != 1 {
		t.Fatalf("temp dirs left behind: %d entries", len(entries))
	}

	vecs := idx.Map()
	if v := vecs["/pics/c.png"]; len(v) != 2 || v[1] != 0.8 {
		t.Fatalf("Map() = %v", vecs)
	}

	if err := Remove(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrNotIndexed) {
		t.Fatalf("want ErrNotIndexed after Remove, got %v", err)
	}
}

func TestLock_Exclusive(t *testing.T) {
	dataDir := t.TempDir()
	l, err := Lock(dataDir)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := Lock(dataDir); !errors.Is(err, ErrIndexBusy) {
		t.Fatalf("want ErrIndexBusy, got %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatal(err)
	}
	l2, err := Lock(dataDir)
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	_ = l2.Unlock()
}
