//go:build !sqlite_fts5

package store

import "testing"

// Without the sqlite_fts5 tag mattn/go-sqlite3 has no FTS5 and lexical search
// runs on the LIKE fallback. Run `make test` for the bm25 tests.
func TestFTS5_Enabled(t *testing.T) {
	s := openTestStore(t)
	if s.FTSAvailable() {
		return
	}
	t.Skip("FTS5 not compiled in: bm25 ranking untested, rerun with -tags sqlite_fts5 (make test)")
}
