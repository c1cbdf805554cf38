package vector

import (
	"context"
	"database/sql"
	"log/slog"
)

// Probe reports whether the pgvector extension is installed.
func Probe(ctx context.Context, db *sql.DB) (bool, error) {
	var ok bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')`).Scan(&ok)
	return ok, err
}

// SelectSearcher picks the native searcher when the extension is present
// and the in-memory one otherwise, including when the probe itself fails.
func SelectSearcher(ctx context.Context, db *sql.DB) Searcher {
	ok, err := Probe(ctx, db)
	if err != nil {
		slog.WarnContext(ctx, "vector extension probe failed, using in-memory similarity", "error", err)
		return NewMemorySearcher(db)
	}
	if !ok {
		slog.InfoContext(ctx, "vector extension not installed, using in-memory similarity")
		return NewMemorySearcher(db)
	}
	slog.InfoContext(ctx, "using native vector similarity")
	return NewNativeSearcher(db)
}
