package indexer

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/embeddings/mock"
	"github.com/merlian/merlian/internal/imageinfo"
	"github.com/merlian/merlian/internal/ocr"
	"github.com/merlian/merlian/internal/search/index"
	"github.com/merlian/merlian/internal/store"
	"github.com/merlian/merlian/internal/testutil"
)

const testDim = 8

type fixture struct {
	ix       *Indexer
	store    *store.Store
	embedder *mock.Embedder
	ocr      *ocr.Static
	dataDir  string
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "merlian.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:    st,
		embedder: mock.NewEmbedder(testDim),
		ocr:      ocr.NewStatic(nil),
		dataDir:  dataDir,
		root:     t.TempDir(),
	}
	f.ix = f.newIndexer(t, f.embedder)
	return f
}

func (f *fixture) newIndexer(t *testing.T, e embeddings.Provider) *Indexer {
	t.Helper()
	ix, err := New(Config{
		Store:     f.store,
		Embedder:  e,
		Extractor: f.ocr,
		DataDir:   f.dataDir,
		Device:    "cpu",
		Workers:   2,
	})
	require.NoError(t, err)
	t.Cleanup(ix.Release)
	return ix
}

// image writes a test PNG under the fixture root with a distinct mtime.
func (f *fixture) image(t *testing.T, name string, seed uint32) string {
	t.Helper()
	p := testutil.WritePNG(t, filepath.Join(f.root, name), 48, 32, seed)
	testutil.Touch(t, p, time.Date(2026, 1, 1, 0, 0, int(seed), 0, time.UTC))
	return p
}

func (f *fixture) run(t *testing.T, opts Options) (Counts, error) {
	t.Helper()
	if opts.Folders == nil {
		opts.Folders = []string{f.root}
	}
	return f.ix.Run(context.Background(), opts, nil)
}

func (f *fixture) loadIndex(t *testing.T) *index.Index {
	t.Helper()
	idx, err := index.Load(f.ix.IndexDir())
	require.NoError(t, err)
	require.Len(t, idx.Vectors, idx.Len()*idx.Manifest.Dim)
	return idx
}

func TestRun_IdempotentReindex(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)
	f.image(t, "sub/c.png", 3)

	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 3}, counts)
	assert.Equal(t, 3, f.embedder.ImageCalls())

	idx := f.loadIndex(t)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, testDim, idx.Manifest.Dim)
	assert.Equal(t, f.embedder.Model(), idx.Manifest.Model)
	assert.Equal(t, []string{f.root}, idx.Manifest.Roots)

	counts, err = f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 3}, counts)
	assert.Equal(t, 3, f.embedder.ImageCalls(), "unchanged files must not reach the oracle")
	assert.Equal(t, 3, f.loadIndex(t).Len())
}

func TestRun_DeletionPropagation(t *testing.T) {
	f := newFixture(t)
	a := f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)
	f.image(t, "c.png", 3)
	_, err := f.run(t, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))
	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Removed: 1, Skipped: 2}, counts)

	rows, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NotContains(t, rows, a)

	idx := f.loadIndex(t)
	assert.Equal(t, 2, idx.Len())
	assert.NotContains(t, idx.Manifest.Paths, a)
}

func TestRun_ChangedFileIsUpdated(t *testing.T) {
	f := newFixture(t)
	a := f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)
	_, err := f.run(t, Options{})
	require.NoError(t, err)
	before, err := f.store.Get(context.Background(), a)
	require.NoError(t, err)

	testutil.WritePNG(t, a, 64, 64, 9)
	testutil.Touch(t, a, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Updated: 1, Skipped: 1}, counts)

	after, err := f.store.Get(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 64, after.Width)
	assert.NotEqual(t, before.Embedding, after.Embedding)
}

func TestRun_EmbeddingFailureSkipsFile(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	bad := f.image(t, "b.png", 2)
	f.embedder.FailImage(bad)

	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 1, Failed: 1}, counts)

	idx := f.loadIndex(t)
	assert.Equal(t, 1, idx.Len())
	assert.NotContains(t, idx.Manifest.Paths, bad)
	_, err = f.store.Get(context.Background(), bad)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_TextExtraction(t *testing.T) {
	f := newFixture(t)
	receipt := f.image(t, "receipt.png", 1)
	broken := f.image(t, "broken.png", 2)
	f.ocr.Set(receipt, "  Total\n$42.00  ")
	f.ocr.Fail(broken, errors.New("tesseract crashed"))

	counts, err := f.run(t, Options{UseTextExtraction: true})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 2}, counts, "text extraction failures must not fail the file")

	row, err := f.store.Get(context.Background(), receipt)
	require.NoError(t, err)
	assert.Equal(t, "Total $42.00", row.RecognizedText)
	assert.Greater(t, row.TextDensity, 0.0)

	row, err = f.store.Get(context.Background(), broken)
	require.NoError(t, err)
	assert.Empty(t, row.RecognizedText)
	assert.Equal(t, 0.0, row.TextDensity)

	hits, err := f.store.QueryTokens(context.Background(), []string{"total"}, store.MatchAll, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, receipt, hits[0].Path)
}

func TestRun_TextExtractionDisabled(t *testing.T) {
	f := newFixture(t)
	p := f.image(t, "a.png", 1)
	f.ocr.Set(p, "invoice")

	_, err := f.run(t, Options{UseTextExtraction: false})
	require.NoError(t, err)
	row, err := f.store.Get(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, row.RecognizedText)
}

func TestRun_NothingIndexed(t *testing.T) {
	f := newFixture(t)
	bad := f.image(t, "a.png", 1)
	f.embedder.FailImage(bad)

	_, err := f.run(t, Options{})
	assert.ErrorIs(t, err, ErrNothingIndexed)
	_, err = index.Load(f.ix.IndexDir())
	assert.ErrorIs(t, err, index.ErrNotIndexed)

	_, err = f.run(t, Options{Folders: []string{t.TempDir()}})
	assert.ErrorIs(t, err, ErrNothingIndexed)
}

func TestRun_NothingIndexedKeepsExistingRows(t *testing.T) {
	f := newFixture(t)
	a := f.image(t, "a.png", 1)
	_, err := f.run(t, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))
	_, err = f.run(t, Options{})
	assert.ErrorIs(t, err, ErrNothingIndexed)

	rows, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rows, a)
	assert.Equal(t, 1, f.loadIndex(t).Len())
}

func TestRun_CapsRetainFilesStillOnDisk(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)
	newest := f.image(t, "c.png", 3)
	_, err := f.run(t, Options{})
	require.NoError(t, err)

	testutil.WritePNG(t, newest, 40, 40, 7)
	testutil.Touch(t, newest, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	counts, err := f.run(t, Options{MaxItems: 1})
	require.NoError(t, err)
	assert.Equal(t, Counts{Updated: 1}, counts)
	assert.Equal(t, 3, f.loadIndex(t).Len())
}

func TestRun_RecentOnly(t *testing.T) {
	f := newFixture(t)
	old := f.image(t, "old.png", 1)
	fresh := f.image(t, "fresh.png", 2)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	testutil.Touch(t, old, now.Add(-90*24*time.Hour))
	testutil.Touch(t, fresh, now.Add(-time.Hour))
	f.ix.now = func() time.Time { return now }

	counts, err := f.run(t, Options{RecentOnly: true, RecentDays: 30})
	require.NoError(t, err)
	assert.Equal(t, Counts{Added: 1}, counts)
	assert.Equal(t, []string{fresh}, f.loadIndex(t).Manifest.Paths)
}

func TestRun_SelfHealsCorruptVectorTable(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)
	_, err := f.run(t, Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.ix.IndexDir(), "vectors.f32"), []byte{1, 2, 3}, 0o644))
	_, err = index.Load(f.ix.IndexDir())
	require.ErrorIs(t, err, index.ErrAlignment)

	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 2}, counts)
	assert.Equal(t, 2, f.embedder.ImageCalls(), "row embeddings must be reused")
	assert.Equal(t, 2, f.loadIndex(t).Len())
}

func TestRun_ModelChangeReembeds(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	_, err := f.run(t, Options{})
	require.NoError(t, err)

	other := mock.NewEmbedder(testDim)
	other.ID.Variant = "other"
	f.ix = f.newIndexer(t, other)

	counts, err := f.run(t, Options{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Updated: 1}, counts)
	assert.Equal(t, other.Model(), f.loadIndex(t).Manifest.Model)
}

func TestRun_DuplicateGroups(t *testing.T) {
	f := newFixture(t)
	stripes := testutil.Stripes(72, 32, 8)
	a := testutil.WriteImage(t, filepath.Join(f.root, "a.png"), stripes)
	b := testutil.WriteImage(t, filepath.Join(f.root, "b.png"), stripes)
	c := testutil.WriteImage(t, filepath.Join(f.root, "c.png"), stripes)
	f.embedder.SetImage(a, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	f.embedder.SetImage(b, []float32{1, 0.05, 0, 0, 0, 0, 0, 0})
	// same layout, different content
	f.embedder.SetImage(c, []float32{0, 1, 0, 0, 0, 0, 0, 0})

	_, err := f.run(t, Options{})
	require.NoError(t, err)
	rows, err := f.store.All(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rows[a].DuplicateGroup)
	assert.Equal(t, rows[a].DuplicateGroup, rows[b].DuplicateGroup)
	assert.NotEmpty(t, rows[c].DuplicateGroup)
	assert.NotEqual(t, rows[a].DuplicateGroup, rows[c].DuplicateGroup)

	// groups survive a re-index that reuses the stored hashes
	f.image(t, "d.png", 4)
	_, err = f.run(t, Options{})
	require.NoError(t, err)
	again, err := f.store.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rows[a].DuplicateGroup, again[a].DuplicateGroup)
	assert.Equal(t, again[a].DuplicateGroup, again[b].DuplicateGroup)
	assert.NotEqual(t, again[a].DuplicateGroup, again[c].DuplicateGroup)
}

func TestRun_UniformImagesNeverGroup(t *testing.T) {
	f := newFixture(t)
	dark := testutil.Solid(48, 32, color.Gray{Y: 12})
	for x := 4; x < 44; x += 3 {
		dark.Set(x, 16, color.Gray{Y: 40})
	}
	paths := []string{
		testutil.WriteImage(t, filepath.Join(f.root, "white.png"), testutil.Solid(48, 32, color.White)),
		testutil.WriteImage(t, filepath.Join(f.root, "black.png"), testutil.Solid(48, 32, color.Black)),
		testutil.WriteImage(t, filepath.Join(f.root, "red.png"), testutil.Solid(48, 32, color.RGBA{R: 255, A: 255})),
		testutil.WriteImage(t, filepath.Join(f.root, "dark.png"), dark),
	}
	// even when the embeddings agree
	for _, p := range paths {
		f.embedder.SetImage(p, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	}

	_, err := f.run(t, Options{})
	require.NoError(t, err)
	rows, err := f.store.All(context.Background())
	require.NoError(t, err)

	for _, p := range paths {
		require.Contains(t, rows, p)
		h, err := imageinfo.ParseHash(rows[p].DHash)
		require.NoError(t, err)
		assert.False(t, imageinfo.HashHasDetail(h), p)
		assert.Empty(t, rows[p].DuplicateGroup, p)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	f.image(t, "b.png", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ix.Run(ctx, Options{Folders: []string{f.root}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = index.Load(f.ix.IndexDir())
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}

func TestRun_CancelledMidRun(t *testing.T) {
	f := newFixture(t)
	for i := uint32(1); i <= 6; i++ {
		f.image(t, filepath.Join("batch", string(rune('a'+i))+".png"), i)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ix = f.newIndexer(t, &cancellingEmbedder{Embedder: f.embedder, cancel: cancel})

	_, err := f.ix.Run(ctx, Options{Folders: []string{f.root}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = index.Load(f.ix.IndexDir())
	assert.ErrorIs(t, err, index.ErrNotIndexed)
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	for i := uint32(1); i <= 5; i++ {
		f.image(t, string(rune('a'+i))+".png", i)
	}

	var seen []Progress
	_, err := f.ix.Run(context.Background(), Options{Folders: []string{f.root}}, func(p Progress) {
		seen = append(seen, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Processed, seen[i-1].Processed)
	}
	last := seen[len(seen)-1]
	assert.Equal(t, 5, last.Processed)
	assert.Equal(t, 5, last.Total)
}

func TestRun_LockedDataDir(t *testing.T) {
	f := newFixture(t)
	f.image(t, "a.png", 1)
	l, err := index.Lock(f.dataDir)
	require.NoError(t, err)
	defer func() { _ = l.Unlock() }()

	_, err = f.run(t, Options{})
	assert.ErrorIs(t, err, index.ErrIndexBusy)
}

// cancellingEmbedder cancels the run on the first image it sees.
type cancellingEmbedder struct {
	*mock.Embedder
	cancel context.CancelFunc
}

func (c *cancellingEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	c.cancel()
	return nil, ctx.Err()
}
