package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/config"
)

// PostgresImage ships the vector extension so the native searcher path is
// exercised.
const PostgresImage = "pgvector/pgvector:pg16"

type IntegrationSuite struct {
	T   *testing.T
	DB  *sql.DB
	NSQ *nsq.Producer

	// Start an nsqd container as well.
	WithNSQ bool
	// Leave the schema empty.
	SkipMigrations bool

	NSQDAddr string
	connStr  string

	// Containers
	pgContainer  *postgres.PostgresContainer
	nsqContainer testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithDatabase("articles_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.connStr)
	require.NoError(s.T, err)

	if !s.SkipMigrations {
		m, err := migrate.New(MigrationPath(), s.connStr)
		require.NoError(s.T, err)
		require.NoError(s.T, m.Up())
	}

	// 2. NSQ
	if !s.WithNSQ {
		return
	}
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	s.NSQDAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a valid configuration pointing at the suite's
// containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(s.T, err)

	return &config.Config{
		DBHost:                     host,
		DBPort:                     portNum,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "articles_test",
		DBSSLMode:                  "disable",
		MigrationPath:              MigrationPath(),
		EmbeddingProvider:          config.ProviderOllama,
		EmbeddingDimension:         3,
		ChunkWords:                 50,
		ChunkOverlapWords:          5,
		QueueMaxAttempts:           3,
		NSQDHost:                   s.NSQDAddr,
		AuditTopic:                 "embedding.audit",
		WorkerPollInterval:         50 * time.Millisecond,
		WorkerHeartbeatInterval:    time.Second,
		WorkerMetricsInterval:      time.Second,
		WorkerStuckTimeout:         time.Minute,
		WorkerRetryBaseDelay:       10 * time.Millisecond,
		WorkerMaxRetryDelay:        time.Second,
		WorkerDrainTimeout:         5 * time.Second,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// MigrationPath is the file:// URL of the repository's migrations.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
