// Package store implements the Asset Store: one SQLite row per indexed image
// plus an FTS5 lexical index over recognised text. When the SQLite build lacks
// FTS5, lexical queries fall back to LIKE matching.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver; build with -tags sqlite_fts5 for FTS5.
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/logutil"
)

// DefaultQuality is the quality score of an asset nobody has scored.
const DefaultQuality = 0.5

// Asset is one indexed image file.
type Asset struct {
	Path           string
	MTime          float64
	SizeBytes      int64
	Width          int // 0 when unknown
	Height         int // 0 when unknown
	RecognizedText string
	TextDensity    float64
	QualityScore   float64
	DuplicateGroup string
	DHash          string
	Embedding      []float32
	IndexedAt      time.Time
}

// Fingerprint returns the change-detection pair of a.
func (a Asset) Fingerprint() Fingerprint {
	return Fingerprint{MTime: a.MTime, Size: a.SizeBytes}
}

// Fingerprint is the (mtime, size) pair used to detect file changes.
type Fingerprint struct {
	MTime float64
	Size  int64
}

// Store is the SQLite-backed Asset Store.
type Store struct {
	db           *sql.DB
	ftsAvailable bool
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FTSAvailable reports whether lexical queries use FTS5 ranking.
func (s *Store) FTSAvailable() bool {
	return s.ftsAvailable
}

const assetColumns = `path, mtime, size_bytes, width, height, recognized_text, text_density,
	quality_score, duplicate_group, dhash, embedding, indexed_at`

// Upsert inserts or fully replaces the row keyed by a.Path, together with its
// lexical entry, in one transaction.
func (s *Store) Upsert(ctx context.Context, a Asset) error {
	if a.Path == "" {
		return fmt.Errorf("asset path is required")
	}
	if a.IndexedAt.IsZero() {
		a.IndexedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			size_bytes = excluded.size_bytes,
			width = excluded.width,
			height = excluded.height,
			recognized_text = excluded.recognized_text,
			text_density = excluded.text_density,
			quality_score = excluded.quality_score,
			duplicate_group = excluded.duplicate_group,
			dhash = excluded.dhash,
			embedding = excluded.embedding,
			indexed_at = excluded.indexed_at
	`,
		a.Path, a.MTime, a.SizeBytes,
		nullInt(a.Width), nullInt(a.Height),
		a.RecognizedText, a.TextDensity, a.QualityScore,
		nullString(a.DuplicateGroup), nullString(a.DHash),
		encodeVector(a.Embedding),
		a.IndexedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", a.Path, err)
	}
	if err := s.replaceLexical(ctx, tx, a.Path, a.RecognizedText); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) replaceLexical(ctx context.Context, tx *sql.Tx, path, text string) error {
	if !s.ftsAvailable {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete lexical entry %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO assets_fts (path, text) VALUES (?, ?)`, path, text); err != nil {
		return fmt.Errorf("insert lexical entry %s: %w", path, err)
	}
	return nil
}

// Get returns the row for path or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE path = ?`, path)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	return a, err
}

// Fingerprint returns the stored fingerprint for path.
func (s *Store) Fingerprint(ctx context.Context, path string) (Fingerprint, bool, error) {
	var fp Fingerprint
	err := s.db.QueryRowContext(ctx, `SELECT mtime, size_bytes FROM assets WHERE path = ?`, path).Scan(&fp.MTime, &fp.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, false, nil
	}
	if err != nil {
		return Fingerprint{}, false, err
	}
	return fp, true, nil
}

// All returns every row keyed by path.
func (s *Store) All(ctx context.Context) (map[string]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Asset)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out[a.Path] = a
	}
	return out, rows.Err()
}

// Delete removes rows and lexical entries for paths in one transaction.
func (s *Store) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE path = ?`, p); err != nil {
			return fmt.Errorf("delete asset %s: %w", p, err)
		}
		if s.ftsAvailable {
			if _, err := tx.ExecContext(ctx, `DELETE FROM assets_fts WHERE path = ?`, p); err != nil {
				return fmt.Errorf("delete lexical entry %s: %w", p, err)
			}
		}
	}
	return tx.Commit()
}

// Reset removes every row.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return err
	}
	if s.ftsAvailable {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM assets_fts`); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarises the table.
type Stats struct {
	Assets        int
	WithText      int
	LastIndexedAt time.Time
}

// Stats returns row counts and the newest indexed_at.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       coalesce(sum(CASE WHEN length(coalesce(recognized_text, '')) > 0 THEN 1 ELSE 0 END), 0),
		       max(indexed_at)
		FROM assets
	`).Scan(&st.Assets, &st.WithText, &last)
	if err != nil {
		return Stats{}, err
	}
	if last.Valid {
		st.LastIndexedAt, _ = time.Parse(time.RFC3339Nano, last.String)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (Asset, error) {
	var (
		a         Asset
		w, h      sql.NullInt64
		text      sql.NullString
		group     sql.NullString
		dhash     sql.NullString
		emb       []byte
		indexedAt string
	)
	if err := r.Scan(&a.Path, &a.MTime, &a.SizeBytes, &w, &h, &text, &a.TextDensity,
		&a.QualityScore, &group, &dhash, &emb, &indexedAt); err != nil {
		return Asset{}, err
	}
	a.Width = int(w.Int64)
	a.Height = int(h.Int64)
	a.RecognizedText = text.String
	a.DuplicateGroup = group.String
	a.DHash = dhash.String
	a.Embedding = decodeVector(emb)
	a.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexedAt)
	return a, nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (s *Store) logger(ctx context.Context) *zap.Logger {
	return logutil.GetLogger(ctx).With(zap.String("component", "store"))
}
