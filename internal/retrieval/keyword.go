package retrieval

import (
	"context"
	"database/sql"
	"strings"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

// PostgresKeywords matches queries against article titles and slugs.
type PostgresKeywords struct {
	db *sql.DB
}

func NewPostgresKeywords(db *sql.DB) *PostgresKeywords {
	return &PostgresKeywords{db: db}
}

const matchTitlesQuery = `
SELECT id, slug, title, folder, updated_at
FROM articles
WHERE (title ILIKE '%' || $2 || '%' OR slug ILIKE '%' || $2 || '%')
  AND ($3 = '' OR folder = $3 OR folder LIKE $5 || '/%' ESCAPE '\')
ORDER BY
  CASE
    WHEN lower(title) = lower($1) OR lower(slug) = lower($1) THEN 1
    WHEN title ILIKE $2 || '%' OR slug ILIKE $2 || '%' THEN 2
    ELSE 3
  END,
  title
LIMIT $4`

// MatchTitles ranks exact matches before prefix matches before substring
// matches, then orders by title.
func (k *PostgresKeywords) MatchTitles(ctx context.Context, query, folder string, limit int) ([]ArticleMetadata, error) {
	rows, err := k.db.QueryContext(ctx, matchTitlesQuery, query, escapeLike(query), folder, limit, escapeLike(folder))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "match titles")
	}
	defer rows.Close()

	var out []ArticleMetadata
	for rows.Next() {
		var m ArticleMetadata
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.Folder, &m.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan title match")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
