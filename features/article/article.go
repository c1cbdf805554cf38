package article

import (
	"context"
	"time"
)

// Article is the read-only view of an article the embedding pipeline needs.
type Article struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Folder    string    `json:"folder"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is an article without its body.
type Summary struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Folder    string    `json:"folder"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Repository interface {
	ReadArticle(ctx context.Context, slug string) (*Article, error)
	ListArticles(ctx context.Context) ([]Summary, error)
	GetArticleID(ctx context.Context, slug string) (string, error)
}
