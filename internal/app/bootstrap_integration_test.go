package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/app"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.SkipMigrations = true
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()
	assert.Nil(t, deps.NSQProducer)

	for _, table := range []string{"articles", "embedding_queue", "article_embeddings", "embedding_worker_status", "embedding_metrics"} {
		var exists bool
		err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	var vectorInstalled bool
	err = deps.DB.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&vectorInstalled)
	require.NoError(t, err)
	assert.True(t, vectorInstalled)

	// Running again is a no-op.
	require.NoError(t, app.Migrate(deps.DB, cfg.MigrationPath))
}
