package vector

import (
	"context"
	"database/sql"
	"math"
	"sort"

	"github.com/lib/pq"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

// MemorySearcher loads candidate vectors and ranks them by cosine
// similarity in process. Used when the vector extension is missing.
type MemorySearcher struct {
	db *sql.DB
}

func NewMemorySearcher(db *sql.DB) *MemorySearcher {
	return &MemorySearcher{db: db}
}

func (s *MemorySearcher) Name() string { return "memory" }

func (s *MemorySearcher) Nearest(ctx context.Context, query []float32, limit int, folder string) ([]ChunkHit, error) {
	q := `SELECT ` + hitColumns + `, e.embedding
		FROM article_embeddings e JOIN articles a ON a.id = e.article_id
		WHERE ` + folderFilter

	rows, err := s.db.QueryContext(ctx, q, folder, escapeLike(folder))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "load vectors")
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var (
			h   ChunkHit
			vec pq.Float32Array
		)
		if err := rows.Scan(&h.ChunkID, &h.ArticleID, &h.Slug, &h.Title, &h.Folder, &h.UpdatedAt,
			pq.Array(&h.HeadingPath), &h.Text, &vec); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan vector")
		}
		if len(vec) != len(query) {
			continue
		}
		h.Score = Cosine(query, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "iterate vectors")
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
