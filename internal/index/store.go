package index

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
)

// Embedding is a chunk together with its vector.
type Embedding struct {
	text.Chunk
	Vector []float32
}

type Store interface {
	ReplaceArticle(ctx context.Context, articleID string, embs []Embedding) error
	DeleteArticle(ctx context.Context, articleID string) (int64, error)
	ExistingVectors(ctx context.Context, articleID string) (map[string][]float32, error)
	CountEmbeddings(ctx context.Context) (int, error)
	CountIndexedArticles(ctx context.Context) (int, error)
	ListUnindexedArticles(ctx context.Context) ([]string, error)
}

// reuseKey identifies a chunk whose vector can be carried over unchanged.
func reuseKey(contentHash string, headingPath []string) string {
	return contentHash + "\x00" + strings.Join(headingPath, "\x1f")
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ReplaceArticle swaps every stored embedding of an article for embs in a
// single transaction.
func (s *PostgresStore) ReplaceArticle(ctx context.Context, articleID string, embs []Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_embeddings WHERE article_id = $1`, articleID); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "delete embeddings")
	}

	if len(embs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO article_embeddings (chunk_id, article_id, chunk_index, heading_path, text, content_hash, embedding) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
		if err != nil {
			return apperr.Wrap(apperr.KindStorage, err, "prepare insert")
		}
		defer stmt.Close()

		for _, e := range embs {
			path := e.HeadingPath
			if path == nil {
				path = []string{}
			}
			if _, err := stmt.ExecContext(ctx, e.ID, articleID, e.ChunkIndex, pq.Array(path), e.Text, e.ContentHash, pq.Array(e.Vector)); err != nil {
				return apperr.Wrap(apperr.KindStorage, err, "insert embedding "+e.ID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "commit")
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, articleID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM article_embeddings WHERE article_id = $1`, articleID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "delete embeddings")
	}
	return res.RowsAffected()
}

// ExistingVectors maps reuse keys of an article's stored chunks to their vectors.
func (s *PostgresStore) ExistingVectors(ctx context.Context, articleID string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash, heading_path, embedding FROM article_embeddings WHERE article_id = $1`, articleID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "load existing vectors")
	}
	defer rows.Close()

	out := map[string][]float32{}
	for rows.Next() {
		var (
			hash string
			path []string
			vec  pq.Float32Array
		)
		if err := rows.Scan(&hash, pq.Array(&path), &vec); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan existing vector")
		}
		out[reuseKey(hash, path)] = vec
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM article_embeddings`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "count embeddings")
	}
	return n, nil
}

func (s *PostgresStore) CountIndexedArticles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT article_id) FROM article_embeddings`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "count indexed articles")
	}
	return n, nil
}

// ListUnindexedArticles returns slugs of articles with no embeddings.
func (s *PostgresStore) ListUnindexedArticles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.slug FROM articles a WHERE NOT EXISTS (SELECT 1 FROM article_embeddings e WHERE e.article_id = a.id) ORDER BY a.slug`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list unindexed articles")
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan slug")
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}
