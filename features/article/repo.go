package article

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ReadArticle(ctx context.Context, slug string) (*Article, error) {
	a := &Article{}
	query := `SELECT id, slug, title, folder, content, created_at, updated_at FROM articles WHERE slug = $1`
	err := r.db.QueryRowContext(ctx, query, slug).Scan(&a.ID, &a.Slug, &a.Title, &a.Folder, &a.Content, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "article %q not found", slug)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "read article")
	}
	return a, nil
}

func (r *PostgresRepo) ListArticles(ctx context.Context) ([]Summary, error) {
	query := `SELECT id, slug, title, folder, updated_at FROM articles ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list articles")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Slug, &s.Title, &s.Folder, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetArticleID(ctx context.Context, slug string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM articles WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.Newf(apperr.KindNotFound, "article %q not found", slug)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, err, "get article id")
	}
	return id, nil
}
