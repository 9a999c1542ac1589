package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/search"
	"github.com/merlian/merlian/internal/search/index"
)

// SearchRequest is a search call. Nil or empty fields take the search.*
// configuration defaults.
type SearchRequest struct {
	Query     string   `json:"query"`
	K         *int     `json:"k,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	OCRWeight *float64 `json:"ocr_weight,omitempty"`
}

// Search ranks the index against req.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]search.Result, error) {
	r := search.Request{
		Query:     req.Query,
		K:         e.cfg.Search.K,
		Mode:      search.Mode(e.cfg.Search.Mode),
		OCRWeight: e.cfg.Search.TextWeight(),
	}
	if req.K != nil {
		r.K = *req.K
	}
	if req.Mode != "" {
		r.Mode = search.Mode(req.Mode)
	}
	if req.OCRWeight != nil {
		r.OCRWeight = *req.OCRWeight
	}
	if err := search.Validate(&r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return e.ranker.Search(ctx, r)
}

// Status describes the data dir.
type Status struct {
	Indexed       bool                `json:"indexed"`
	Roots         []string            `json:"roots"`
	Model         embeddings.Identity `json:"model"`
	Device        string              `json:"device,omitempty"`
	Assets        int                 `json:"assets"`
	Vectors       int                 `json:"vectors"`
	WithText      int                 `json:"with_text"`
	LastIndexedAt *time.Time          `json:"last_indexed_at,omitempty"`
	DataDir       string              `json:"data_dir"`
	LexicalEngine string              `json:"lexical_engine"`
	Problem       string              `json:"problem,omitempty"`
}

// Status reports what is indexed. An unreadable index is reported through
// Problem, not as an error.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		Roots:         []string{},
		Model:         e.model(),
		DataDir:       e.cfg.DataDir,
		LexicalEngine: "like",
	}
	if e.store.FTSAvailable() {
		st.LexicalEngine = "fts5"
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Assets = stats.Assets
	st.WithText = stats.WithText
	if !stats.LastIndexedAt.IsZero() {
		t := stats.LastIndexedAt
		st.LastIndexedAt = &t
	}

	idx, err := index.Load(e.indexer.IndexDir())
	switch {
	case errors.Is(err, index.ErrNotIndexed):
	case err != nil:
		st.Problem = err.Error()
	default:
		st.Indexed = idx.Len() > 0
		st.Roots = idx.Manifest.Roots
		st.Model = idx.Manifest.Model
		st.Device = idx.Manifest.Device
		st.Vectors = idx.Len()
	}
	return st, nil
}
