// Package indexer keeps the Asset Store and the Vector Store in step with the
// image files under a set of folders.
//
// A run walks the folders, diffs every candidate against its stored
// fingerprint, calls the embedding and text-extraction oracles only for new or
// changed files, writes each result through to the Asset Store, and finally
// publishes a fresh vector table and manifest in one atomic swap.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/logutil"
	"github.com/merlian/merlian/internal/ocr"
	"github.com/merlian/merlian/internal/scan"
	"github.com/merlian/merlian/internal/search/index"
	"github.com/merlian/merlian/internal/store"
)

// ErrNothingIndexed is returned when a run would leave the index empty.
var ErrNothingIndexed = errors.New("no images could be indexed")

// IndexDirName is the Vector Store directory inside a data dir.
const IndexDirName = "index"

// Options selects what a run indexes.
type Options struct {
	Folders           []string
	UseTextExtraction bool
	MaxItems          int
	RecentOnly        bool
	RecentDays        int
}

// Counts summarises a run.
type Counts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Progress is reported while a run advances. Total is 0 until the walk ends.
type Progress struct {
	Processed int
	Total     int
	Message   string
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

// Config wires an Indexer to its collaborators.
type Config struct {
	Store     *store.Store
	Embedder  embeddings.Provider
	Extractor ocr.Extractor
	DataDir   string
	Device    string
	Excludes  []string
	Workers   int
	// Now is used for recency filtering; defaults to time.Now.
	Now func() time.Time
}

// Indexer runs incremental indexing passes. Runs on one Indexer may overlap
// only if they target different data dirs; the data dir lock rejects the rest.
type Indexer struct {
	store     *store.Store
	embedder  embeddings.Provider
	extractor ocr.Extractor
	dataDir   string
	device    string
	excludes  []string
	workers   int
	now       func() time.Time
	pool      *ants.Pool
}

// New creates an Indexer and its worker pool.
func New(cfg Config) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("indexer: store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("indexer: embedder is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("indexer: data dir is required")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("indexer: create pool: %w", err)
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = ocr.None{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Indexer{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		extractor: extractor,
		dataDir:   cfg.DataDir,
		device:    cfg.Device,
		excludes:  cfg.Excludes,
		workers:   workers,
		now:       now,
		pool:      pool,
	}, nil
}

// Release stops the worker pool.
func (ix *Indexer) Release() {
	ix.pool.Release()
}

// IndexDir returns where the Vector Store is published.
func (ix *Indexer) IndexDir() string {
	return filepath.Join(ix.dataDir, IndexDirName)
}

// Run performs one indexing pass. A cancelled run returns ctx.Err() and
// publishes nothing; rows already written stay valid for the next run.
func (ix *Indexer) Run(ctx context.Context, opts Options, progress ProgressFunc) (Counts, error) {
	var counts Counts
	if len(opts.Folders) == 0 {
		return counts, fmt.Errorf("indexer: no folders given")
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	log := ix.logger(ctx)

	lock, err := index.Lock(ix.dataDir)
	if err != nil {
		return counts, err
	}
	defer func() { _ = lock.Unlock() }()

	r := &run{
		ix:       ix,
		opts:     opts,
		log:      log,
		progress: progress,
		vectors:  make(map[string][]float32),
	}
	if err := r.loadPrevious(ctx); err != nil {
		return counts, err
	}

	progress(Progress{Message: "scanning folders"})
	files, err := scan.Walk(ctx, opts.Folders, ix.excludes)
	if err != nil {
		return counts, err
	}
	onDisk := make(map[string]scan.File, len(files))
	for _, f := range files {
		onDisk[f.Path] = f
	}
	candidates := scan.Select(files, scan.Limits{
		RecentOnly: opts.RecentOnly,
		RecentDays: opts.RecentDays,
		MaxItems:   opts.MaxItems,
		Now:        ix.now(),
	})
	r.total = len(candidates)
	r.seedGroups(onDisk)
	progress(Progress{Total: r.total, Message: fmt.Sprintf("found %d images", r.total)})
	log.Info("index run started",
		zap.Strings("folders", opts.Folders),
		zap.Int("on_disk", len(files)),
		zap.Int("candidates", len(candidates)))

	if err := r.process(ctx, candidates, &counts); err != nil {
		return counts, err
	}

	// Files capped away by MaxItems or RecentOnly stay indexed while on disk.
	selected := make(map[string]bool, len(candidates))
	for _, f := range candidates {
		selected[f.Path] = true
	}
	for p := range onDisk {
		if selected[p] {
			continue
		}
		if v := r.reusable(p); v != nil {
			r.keep(p, v)
		}
	}

	var removed []string
	for p := range r.previous() {
		if _, ok := onDisk[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(removed)

	if len(r.vectors) == 0 {
		return counts, ErrNothingIndexed
	}
	if err := ctx.Err(); err != nil {
		return counts, err
	}

	if err := ix.store.Delete(ctx, removed...); err != nil {
		return counts, fmt.Errorf("remove deleted assets: %w", err)
	}
	counts.Removed = len(removed)

	progress(Progress{Processed: r.processed, Total: r.total, Message: "publishing index"})
	if err := r.publish(); err != nil {
		return counts, err
	}

	log.Info("index run finished",
		zap.Int("added", counts.Added),
		zap.Int("updated", counts.Updated),
		zap.Int("removed", counts.Removed),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed),
		zap.Int("vectors", len(r.vectors)))
	progress(Progress{Processed: r.processed, Total: r.total, Message: "done"})
	return counts, nil
}

func (ix *Indexer) logger(ctx context.Context) *zap.Logger {
	return logutil.GetLogger(ctx).With(zap.String("component", "indexer"))
}
