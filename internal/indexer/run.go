package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/imageinfo"
	"github.com/merlian/merlian/internal/ocr"
	"github.com/merlian/merlian/internal/scan"
	"github.com/merlian/merlian/internal/search/index"
	"github.com/merlian/merlian/internal/store"
)

const (
	// duplicateDistance is the largest dHash Hamming distance treated as a near duplicate.
	duplicateDistance = 4
	// duplicateSimilarity is the smallest embedding cosine between near duplicates.
	duplicateSimilarity = 0.95
)

// run holds the state of one Indexer.Run call.
type run struct {
	ix       *Indexer
	opts     Options
	log      *zap.Logger
	progress ProgressFunc

	rows      map[string]store.Asset
	prevPaths map[string]bool
	prevVecs  map[string][]float32
	reuseOK   bool

	dim       int
	vectors   map[string][]float32
	groups    map[string]groupEntry
	processed int
	total     int
}

type groupEntry struct {
	hash  uint64
	vec   []float32
	group string
}

// analysis is the oracle output for one file.
type analysis struct {
	file   scan.File
	vec    []float32
	err    error
	info   imageinfo.Info
	probed bool
	text   string
}

func (r *run) loadPrevious(ctx context.Context) error {
	r.prevPaths = make(map[string]bool)
	r.prevVecs = make(map[string][]float32)
	r.reuseOK = true

	prev, err := index.Load(r.ix.IndexDir())
	switch {
	case errors.Is(err, index.ErrNotIndexed):
	case err != nil:
		r.log.Warn("previous index unusable, starting from an empty vector table", zap.Error(err))
	default:
		for _, p := range prev.Manifest.Paths {
			r.prevPaths[p] = true
		}
		if prev.Manifest.Model != r.ix.embedder.Model() {
			r.log.Info("embedding model changed, re-embedding every image",
				zap.Stringer("previous", prev.Manifest.Model),
				zap.Stringer("current", r.ix.embedder.Model()))
			r.reuseOK = false
		} else {
			r.prevVecs = prev.Map()
			r.dim = prev.Manifest.Dim
		}
	}

	rows, err := r.ix.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	r.rows = rows
	return nil
}

// previous returns every path the last runs indexed.
func (r *run) previous() map[string]bool {
	out := make(map[string]bool, len(r.rows)+len(r.prevPaths))
	for p := range r.rows {
		out[p] = true
	}
	for p := range r.prevPaths {
		out[p] = true
	}
	return out
}

// reusable returns a vector for path that needs no oracle call: the previous
// vector table's row, else the asset row's own embedding.
func (r *run) reusable(path string) []float32 {
	if !r.reuseOK {
		return nil
	}
	if v, ok := r.prevVecs[path]; ok {
		return v
	}
	if row, ok := r.rows[path]; ok && len(row.Embedding) > 0 {
		return row.Embedding
	}
	return nil
}

// keep places v as the vector of path. It rejects vectors whose dimension
// differs from the table's.
func (r *run) keep(path string, v []float32) bool {
	if r.dim == 0 {
		r.dim = len(v)
	}
	if len(v) != r.dim {
		r.log.Warn("dropping vector with unexpected dimension",
			zap.String("path", path), zap.Int("dim", len(v)), zap.Int("want", r.dim))
		return false
	}
	r.vectors[path] = v
	return true
}

func (r *run) advance(message string) {
	r.processed++
	r.progress(Progress{Processed: r.processed, Total: r.total, Message: message})
}

func (r *run) process(ctx context.Context, candidates []scan.File, counts *Counts) error {
	batchSize := r.ix.workers * 4
	pending := make([]scan.File, 0, batchSize)

	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if row, ok := r.rows[f.Path]; ok && row.MTime == f.MTime() && row.SizeBytes == f.Size {
			if v := r.reusable(f.Path); v != nil && r.keep(f.Path, v) {
				counts.Skipped++
				r.advance("unchanged " + filepath.Base(f.Path))
				continue
			}
		}
		pending = append(pending, f)
		if len(pending) >= batchSize {
			if err := r.flush(ctx, pending, counts); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		return r.flush(ctx, pending, counts)
	}
	return nil
}

// flush fans a batch out to the worker pool and applies the results in
// candidate order.
func (r *run) flush(ctx context.Context, batch []scan.File, counts *Counts) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	results := make([]analysis, len(batch))
	var wg sync.WaitGroup
	for i, f := range batch {
		wg.Add(1)
		err := r.ix.pool.Submit(func() {
			defer wg.Done()
			results[i] = r.ix.analyze(ctx, f, r.opts.UseTextExtraction)
		})
		if err != nil {
			wg.Done()
			results[i] = analysis{file: f, err: fmt.Errorf("submit: %w", err)}
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, res := range results {
		if err := r.apply(ctx, res, counts); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) apply(ctx context.Context, res analysis, counts *Counts) error {
	path := res.file.Path
	if res.err != nil || !r.keep(path, res.vec) {
		counts.Failed++
		if res.err != nil {
			r.log.Warn("cannot embed image, skipping", zap.String("path", path), zap.Error(res.err))
		}
		// the stale vector stays until the file can be embedded again
		if v := r.reusable(path); v != nil {
			r.keep(path, v)
		}
		r.advance("failed " + filepath.Base(path))
		return nil
	}

	a := store.Asset{
		Path:           path,
		MTime:          res.file.MTime(),
		SizeBytes:      res.file.Size,
		RecognizedText: res.text,
		QualityScore:   store.DefaultQuality,
		Embedding:      res.vec,
		IndexedAt:      time.Now().UTC(),
	}
	if res.probed {
		a.Width = res.info.Width
		a.Height = res.info.Height
		a.QualityScore = res.info.Quality
		a.DHash = imageinfo.FormatHash(res.info.DHash)
		a.DuplicateGroup = r.assignGroup(path, res.info.DHash, res.vec)
	} else {
		delete(r.groups, path)
	}
	a.TextDensity = imageinfo.TextDensity(a.RecognizedText, a.Width, a.Height)

	if err := r.ix.store.Upsert(ctx, a); err != nil {
		return err
	}
	_, hadRow := r.rows[path]
	if hadRow || r.prevPaths[path] {
		counts.Updated++
		r.advance("updated " + filepath.Base(path))
	} else {
		counts.Added++
		r.advance("added " + filepath.Base(path))
	}
	r.rows[path] = a
	return nil
}

// analyze calls the oracles for one file. It runs on the worker pool.
func (ix *Indexer) analyze(ctx context.Context, f scan.File, useText bool) analysis {
	res := analysis{file: f}
	res.vec, res.err = ix.embedder.EmbedImage(ctx, f.Path)
	if res.err != nil {
		return res
	}
	log := ix.logger(ctx)

	info, err := imageinfo.Probe(f.Path)
	if err != nil {
		log.Debug("cannot probe image", zap.String("path", f.Path), zap.Error(err))
	} else {
		res.info = info
		res.probed = true
	}

	if useText {
		text, err := ix.extractor.Extract(ctx, f.Path)
		if err != nil {
			log.Warn("text extraction failed, indexing without text",
				zap.String("path", f.Path), zap.String("extractor", ix.extractor.Name()), zap.Error(err))
			text = ""
		}
		res.text = ocr.Clean(text)
	}
	return res
}

// seedGroups loads the dHashes of assets still on disk.
func (r *run) seedGroups(onDisk map[string]scan.File) {
	r.groups = make(map[string]groupEntry)
	for p, row := range r.rows {
		if _, ok := onDisk[p]; !ok || row.DHash == "" {
			continue
		}
		h, err := imageinfo.ParseHash(row.DHash)
		if err != nil || !imageinfo.HashHasDetail(h) || len(row.Embedding) == 0 {
			continue
		}
		g := row.DuplicateGroup
		if g == "" {
			g = row.DHash
		}
		r.groups[p] = groupEntry{hash: h, vec: row.Embedding, group: g}
	}
}

// assignGroup joins path to the group of the nearest other asset within
// duplicateDistance whose embedding agrees with vec, or starts a group named
// after its own hash. Hashes of near-uniform images carry no layout and never
// group.
func (r *run) assignGroup(path string, hash uint64, vec []float32) string {
	if !imageinfo.HashHasDetail(hash) {
		delete(r.groups, path)
		return ""
	}
	var (
		bestPath string
		best     groupEntry
		bestDist = duplicateDistance + 1
	)
	for p, e := range r.groups {
		if p == path {
			continue
		}
		d := imageinfo.Distance(hash, e.hash)
		if d > duplicateDistance {
			continue
		}
		if sim, err := embeddings.Cosine(vec, e.vec); err != nil || sim < duplicateSimilarity {
			continue
		}
		if d < bestDist || (d == bestDist && p < bestPath) {
			bestPath, best, bestDist = p, e, d
		}
	}
	group := imageinfo.FormatHash(hash)
	if bestPath != "" {
		group = best.group
	}
	r.groups[path] = groupEntry{hash: hash, vec: vec, group: group}
	return group
}

func (r *run) publish() error {
	paths := make([]string, 0, len(r.vectors))
	for p := range r.vectors {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	flat := make([]float32, 0, len(paths)*r.dim)
	for _, p := range paths {
		flat = append(flat, r.vectors[p]...)
	}

	roots := make([]string, 0, len(r.opts.Folders))
	for _, f := range r.opts.Folders {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		roots = append(roots, abs)
	}

	m := index.Manifest{
		IndexVersion: index.Version,
		UpdatedAt:    time.Now().UTC(),
		Model:        r.ix.embedder.Model(),
		Device:       r.ix.device,
		Roots:        roots,
		Dim:          r.dim,
		Normalize:    true,
		Paths:        paths,
	}
	if err := index.Publish(r.ix.IndexDir(), m, flat); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}
