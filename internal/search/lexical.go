package search

import (
	"context"

	"github.com/merlian/merlian/internal/store"
)

// numericFallbackScore is the lexical score of a substring hit on a numeric token.
const numericFallbackScore = 0.95

// lexicalScores maps paths to a relevance in [0, 1]. The query runs
// conjunctively first, then disjunctively, and finally falls back to a
// substring match over numeric tokens.
func lexicalScores(ctx context.Context, st *store.Store, tokens []string) (map[string]float64, error) {
	scores := make(map[string]float64)
	if len(tokens) == 0 {
		return scores, nil
	}

	hits, err := st.QueryTokens(ctx, tokens, store.MatchAll, store.DefaultLexicalLimit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && len(tokens) > 1 {
		hits, err = st.QueryTokens(ctx, tokens, store.MatchAny, store.DefaultLexicalLimit)
		if err != nil {
			return nil, err
		}
	}

	if len(hits) > 0 {
		best, worst := hits[0].Raw, hits[0].Raw
		for _, h := range hits {
			best = min(best, h.Raw)
			worst = max(worst, h.Raw)
		}
		denom := max(1e-6, worst-best)
		for _, h := range hits {
			scores[h.Path] = 1 - (h.Raw-best)/denom
		}
		return scores, nil
	}

	var digits []string
	for _, t := range tokens {
		if isDigits(t) {
			digits = append(digits, t)
		}
	}
	if len(digits) == 0 {
		return scores, nil
	}
	paths, err := st.QueryContains(ctx, digits, store.DefaultLexicalLimit)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		scores[p] = numericFallbackScore
	}
	return scores, nil
}
