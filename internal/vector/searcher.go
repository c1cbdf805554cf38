package vector

import (
	"context"
	"strings"
	"time"
)

// ChunkHit is one stored chunk scored against a query vector.
type ChunkHit struct {
	ChunkID     string
	ArticleID   string
	Slug        string
	Title       string
	Folder      string
	UpdatedAt   time.Time
	HeadingPath []string
	Text        string
	Score       float64
}

// Searcher returns the stored chunks nearest to query, best first. An empty
// folder searches everything; otherwise only the folder and its subfolders.
type Searcher interface {
	Nearest(ctx context.Context, query []float32, limit int, folder string) ([]ChunkHit, error)
	Name() string
}

const hitColumns = `e.chunk_id, e.article_id, a.slug, a.title, a.folder, a.updated_at, e.heading_path, e.text`

// folderFilter takes the folder as $1 and its LIKE-escaped form as $2.
const folderFilter = `($1 = '' OR a.folder = $1 OR a.folder LIKE $2 || '/%' ESCAPE '\')`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
