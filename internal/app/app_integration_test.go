package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/queue"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/testutils"
)

func TestApp_Integration_IndexAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	cfg := s.GetAppConfig()

	a, err := New(ctx, cfg, s.DB, stubEmbedder{}, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "pgvector", a.Searcher.Name())

	_, err = s.DB.ExecContext(ctx, `INSERT INTO articles (id, slug, title, folder, content) VALUES ($1, $2, $3, $4, $5)`,
		"a1", "deploy-guide", "Deploy Guide", "ops",
		"Intro text.\n\n# Setup\n\nInstall the agent.\n\n## Verify\n\nCheck the logs.\n")
	require.NoError(t, err)

	// 1. Create
	_, err = a.Queue.Enqueue(ctx, queue.NewTask{ArticleID: "a1", Slug: "deploy-guide", Operation: queue.OpCreate})
	require.NoError(t, err)

	processed, err := a.Worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := a.Indexer.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.TotalEmbeddings, 0)
	assert.Equal(t, 1, stats.IndexedArticles)

	results, err := a.Retrieval.SemanticSearch(ctx, "how do I install", 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deploy-guide", results[0].Article.Slug)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)

	results, err = a.Retrieval.SemanticSearch(ctx, "how do I install", 5, "elsewhere")
	require.NoError(t, err)
	assert.Empty(t, results)

	// 2. Delete
	_, err = a.Queue.Enqueue(ctx, queue.NewTask{ArticleID: "a1", Slug: "deploy-guide", Operation: queue.OpDelete, Priority: queue.PriorityHigh})
	require.NoError(t, err)

	processed, err = a.Worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err = a.Indexer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEmbeddings)

	queueStats, err := a.Queue.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queueStats.Completed)
}
