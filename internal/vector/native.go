package vector

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

// NativeSearcher orders by pgvector's cosine distance operator inside
// Postgres. Stored REAL[] columns are cast to vector per query.
type NativeSearcher struct {
	db *sql.DB
}

func NewNativeSearcher(db *sql.DB) *NativeSearcher {
	return &NativeSearcher{db: db}
}

func (s *NativeSearcher) Name() string { return "pgvector" }

func (s *NativeSearcher) Nearest(ctx context.Context, query []float32, limit int, folder string) ([]ChunkHit, error) {
	q := `SELECT ` + hitColumns + `, 1 - (e.embedding::vector <=> $3) AS score
		FROM article_embeddings e JOIN articles a ON a.id = e.article_id
		WHERE ` + folderFilter + `
		ORDER BY e.embedding::vector <=> $3
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, q, folder, escapeLike(folder), pgvector.NewVector(query), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "native vector search")
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.ArticleID, &h.Slug, &h.Title, &h.Folder, &h.UpdatedAt,
			pq.Array(&h.HeadingPath), &h.Text, &h.Score); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
