// Package engine is the core facade used by the CLI and the HTTP API. It owns
// the stores, the embedding registry, the text extractor and the job
// supervisor, and validates every request before it reaches them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/config"
	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/indexer"
	"github.com/merlian/merlian/internal/jobs"
	"github.com/merlian/merlian/internal/logutil"
	"github.com/merlian/merlian/internal/ocr"
	"github.com/merlian/merlian/internal/search"
	"github.com/merlian/merlian/internal/store"
)

// DBFile is the Asset Store file name inside the data dir.
const DBFile = "merlian.db"

const (
	queryCacheSize = 256
	queryCacheTTL  = 10 * time.Minute
)

// ErrInvalidInput marks requests rejected before any work starts.
var ErrInvalidInput = errors.New("invalid input")

// Engine wires the merlian core together.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	registry  *embeddings.Registry
	extractor ocr.Extractor
	indexer   *indexer.Indexer
	ranker    *search.Ranker
	jobs      *jobs.Supervisor
	scheduler *jobs.Scheduler
	now       func() time.Time
}

// Option customises New.
type Option func(*Engine)

// WithRegistry replaces the config-derived embedding registry.
func WithRegistry(r *embeddings.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithExtractor replaces the config-derived text extractor.
func WithExtractor(x ocr.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithClock sets the clock used for recency filtering and boosting.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New opens the data dir described by cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = embeddings.NewConfigRegistry(embeddings.ConfigFrom(cfg.Embeddings),
			func(p embeddings.Provider) embeddings.Provider {
				return embeddings.WithQueryCache(p, queryCacheSize, queryCacheTTL)
			})
	}
	if e.extractor == nil {
		x, err := ocr.New(cfg.OCR)
		if err != nil {
			return nil, err
		}
		e.extractor = x
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, DBFile))
	if err != nil {
		return nil, err
	}
	e.store = st

	model := e.model()
	embedder, err := e.registry.Get(ctx, embeddings.Key{Device: cfg.Device, Model: model})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load embedding model: %w", err)
	}

	e.indexer, err = indexer.New(indexer.Config{
		Store:     st,
		Embedder:  embedder,
		Extractor: e.extractor,
		DataDir:   cfg.DataDir,
		Device:    embeddings.ResolveDevice(cfg.Device),
		Excludes:  cfg.Excludes,
		Workers:   cfg.Indexer.Workers,
		Now:       e.now,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	e.ranker = search.NewRanker(search.RankerConfig{
		Store:    st,
		Registry: e.registry,
		IndexDir: e.indexer.IndexDir(),
		Device:   cfg.Device,
		Model:    model,
		Now:      e.now,
	})
	e.jobs = jobs.NewSupervisor(e.indexer.Run, cfg.Jobs.Retain)

	logutil.GetLogger(ctx).Debug("engine ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("model", model.String()),
		zap.String("ocr", e.extractor.Name()),
		zap.Bool("fts5", st.FTSAvailable()))
	return e, nil
}

func (e *Engine) model() embeddings.Identity {
	return embeddings.Identity{Name: e.cfg.Embeddings.Model, Variant: e.cfg.Embeddings.Variant}
}

// StartScheduler starts periodic re-indexing of the configured roots when a
// cron spec is configured. It is a no-op otherwise.
func (e *Engine) StartScheduler(ctx context.Context) error {
	spec := e.cfg.Schedule.ReindexCron
	if spec == "" {
		return nil
	}
	opts, err := e.indexOptions(IndexRequest{Folders: e.cfg.Roots})
	if err != nil {
		return fmt.Errorf("scheduled re-index: %w", err)
	}
	s, err := jobs.NewScheduler(spec, e.jobs, opts)
	if err != nil {
		return fmt.Errorf("%w: schedule.reindex_cron: %w", ErrInvalidInput, err)
	}
	s.Start()
	e.scheduler = s
	logutil.GetLogger(ctx).Info("scheduled re-index enabled",
		zap.String("spec", spec), zap.Strings("roots", opts.Folders))
	return nil
}

// Close stops background work and closes the stores.
func (e *Engine) Close() error {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	e.jobs.Close()
	e.indexer.Release()
	return e.store.Close()
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func resolveFolder(p string) (string, error) {
	expanded, err := config.ExpandPath(p)
	if err != nil {
		return "", invalid("cannot expand %s: %v", p, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", invalid("cannot resolve %s: %v", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", invalid("folder %s does not exist", abs)
	}
	if !info.IsDir() {
		return "", invalid("%s is not a folder", abs)
	}
	return abs, nil
}
