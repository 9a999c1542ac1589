package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Match selects how query tokens are combined.
type Match int

const (
	// MatchAll requires every token to appear.
	MatchAll Match = iota
	// MatchAny requires at least one token to appear.
	MatchAny
)

// DefaultLexicalLimit caps the number of hits a lexical query returns.
const DefaultLexicalLimit = 2000

// LexicalHit is one lexical match. Raw is lower-is-better: the bm25 score when
// FTS5 is available, otherwise the negated number of matching tokens plus a
// term density in [0, 1) so that equal matches still order by frequency.
type LexicalHit struct {
	Path string
	Raw  float64
}

// QueryTokens runs a lexical query over recognised text. Hits are ordered best
// first.
func (s *Store) QueryTokens(ctx context.Context, tokens []string, match Match, limit int) ([]LexicalHit, error) {
	tokens = nonEmpty(tokens)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLexicalLimit
	}
	if s.ftsAvailable {
		return s.queryFTS(ctx, tokens, match, limit)
	}
	return s.queryLikeScored(ctx, tokens, match, limit)
}

func (s *Store) queryFTS(ctx context.Context, tokens []string, match Match, limit int) ([]LexicalHit, error) {
	op := " AND "
	if match == MatchAny {
		op = " OR "
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, bm25(assets_fts) AS rank
		FROM assets_fts
		WHERE assets_fts MATCH ?
		ORDER BY rank ASC, path ASC
		LIMIT ?
	`, strings.Join(quoted, op), limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.Path, &h.Raw); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// queryLikeScored scores rows by how many tokens their text contains, then by
// how densely they occur.
func (s *Store) queryLikeScored(ctx context.Context, tokens []string, match Match, limit int) ([]LexicalHit, error) {
	var (
		conds []string
		args  []any
	)
	for _, t := range tokens {
		conds = append(conds, `lower(recognized_text) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(t))
	}
	op := " AND "
	if match == MatchAny {
		op = " OR "
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, lower(recognized_text) FROM assets WHERE recognized_text IS NOT NULL AND (`+strings.Join(conds, op)+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("like query: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var path, text string
		if err := rows.Scan(&path, &text); err != nil {
			return nil, err
		}
		hits = append(hits, LexicalHit{Path: path, Raw: -likeScore(text, tokens)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Raw != hits[j].Raw {
			return hits[i].Raw < hits[j].Raw
		}
		return hits[i].Path < hits[j].Path
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func likeScore(text string, tokens []string) float64 {
	var matched, occ int
	for _, t := range tokens {
		c := strings.Count(text, strings.ToLower(t))
		if c > 0 {
			matched++
			occ += c
		}
	}
	words := len(strings.Fields(text))
	if occ == 0 || words == 0 {
		return float64(matched)
	}
	return float64(matched) + float64(occ)/float64(occ+words)
}

// QueryContains returns paths whose recognised text contains any of tokens as
// a substring. It is the fallback for numeric tokens that the FTS tokenizer
// splits differently from the user.
func (s *Store) QueryContains(ctx context.Context, tokens []string, limit int) ([]string, error) {
	tokens = nonEmpty(tokens)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLexicalLimit
	}
	var (
		conds []string
		args  []any
	)
	for _, t := range tokens {
		conds = append(conds, `lower(recognized_text) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(t))
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM assets WHERE recognized_text IS NOT NULL AND (`+strings.Join(conds, " OR ")+`) ORDER BY path LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("contains query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func likePattern(token string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(token)) + "%"
}

func nonEmpty(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
