package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/embeddings"
	"github.com/merlian/merlian/internal/logutil"
	"github.com/merlian/merlian/internal/search/index"
	"github.com/merlian/merlian/internal/store"
)

const (
	MaxK = 200

	textyFloor      = 0.80
	densityLean     = 0.25
	qualityFloor    = 0.3
	recencyBoost    = 0.15
	recencyHorizon  = 365.0
	dedupOversample = 3
	secondsPerDay   = 86400.0
)

// RankerConfig wires a Ranker to the stores it reads.
type RankerConfig struct {
	Store    *store.Store
	Registry *embeddings.Registry
	IndexDir string
	// Device and Model are used when the manifest does not name them.
	Device string
	Model  embeddings.Identity
	// Now is used for the recency boost; defaults to time.Now.
	Now func() time.Time
}

// Ranker answers text queries against the published index. It never writes.
type Ranker struct {
	store    *store.Store
	registry *embeddings.Registry
	indexDir string
	device   string
	model    embeddings.Identity
	now      func() time.Time
}

// NewRanker returns a Ranker for cfg.
func NewRanker(cfg RankerConfig) *Ranker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ranker{
		store:    cfg.Store,
		registry: cfg.Registry,
		indexDir: cfg.IndexDir,
		device:   cfg.Device,
		model:    cfg.Model,
		now:      now,
	}
}

// Validate checks req and fills in the default mode.
func Validate(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return ErrEmptyQuery
	}
	if req.K < 1 || req.K > MaxK {
		return ErrInvalidK
	}
	if math.IsNaN(req.OCRWeight) || req.OCRWeight < 0 || req.OCRWeight > 1 {
		return ErrInvalidWeight
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	return nil
}

// Search ranks the indexed images against req. A missing or misaligned index
// yields an empty result, not an error.
func (r *Ranker) Search(ctx context.Context, req Request) ([]Result, error) {
	if err := Validate(&req); err != nil {
		return nil, err
	}
	log := logutil.GetLogger(ctx).With(zap.String("component", "search"))

	idx, err := index.Load(r.indexDir)
	if err != nil {
		if !errors.Is(err, index.ErrNotIndexed) {
			log.Warn("index unusable, returning no results", zap.Error(err))
		}
		return []Result{}, nil
	}
	if idx.Len() == 0 {
		return []Result{}, nil
	}
	m := idx.Manifest

	rows, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	key := embeddings.Key{Device: m.Device, Model: m.Model}
	if key.Device == "" {
		key.Device = r.device
	}
	if key.Model.IsZero() {
		key.Model = r.model
	}
	provider, err := r.registry.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}
	qv, err := provider.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != m.Dim {
		return nil, fmt.Errorf("query embedding has dimension %d, index has %d", len(qv), m.Dim)
	}

	tokens := Tokenize(req.Query)
	lexical, err := lexicalScores(ctx, r.store, tokens)
	if err != nil {
		return nil, fmt.Errorf("lexical query: %w", err)
	}

	w := req.OCRWeight
	if LooksTexty(req.Query) {
		w = max(w, textyFloor)
	}
	now := r.now()

	results := make([]Result, 0, idx.Len())
	for i, path := range m.Paths {
		row, ok := rows[path]
		if !ok {
			continue
		}
		vec := idx.Vector(i)
		// a row written after the table was published carries the newer vector
		if row.IndexedAt.After(m.UpdatedAt) && len(row.Embedding) == m.Dim {
			vec = row.Embedding
		}
		clip, err := embeddings.Dot(vec, qv)
		if err != nil {
			return nil, err
		}
		lex := lexical[path]

		wi := clamp01(w + densityLean*row.TextDensity)
		blended := (1-wi)*clip + wi*lex
		blended *= qualityFloor + (1-qualityFloor)*row.QualityScore
		days := (float64(now.UnixNano())/1e9 - row.MTime) / secondsPerDay
		blended *= 1 + recencyBoost*clamp01(1-days/recencyHorizon)

		res := Result{
			Path:           path,
			Clip:           clip,
			Lexical:        lex,
			Blended:        blended,
			MatchedTokens:  MatchedTokens(tokens, row.RecognizedText),
			Width:          row.Width,
			Height:         row.Height,
			DuplicateGroup: row.DuplicateGroup,
		}
		switch req.Mode {
		case ModeClip:
			res.Score = clip
		case ModeOCR:
			res.Score = lex
		default:
			res.Score = blended
		}
		results = append(results, res)
	}

	SortResults(results)
	if req.Mode == ModeHybrid {
		if n := dedupOversample * req.K; len(results) > n {
			results = results[:n]
		}
		return Dedup(results, req.K), nil
	}
	if len(results) > req.K {
		results = results[:req.K]
	}
	return results, nil
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
