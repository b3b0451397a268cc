package helper

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDbName     = "database"
	testDbUser     = "user"
	testDbPassword = "password"
)

// MustStartPostgresContainer starts a throwaway Postgres for package tests
// and returns its teardown function and mapped port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(testDbName),
		postgres.WithUsername(testDbUser),
		postgres.WithPassword(testDbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", NewError("postgres container", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return pgContainer.Terminate, "", NewError("mapped port", err)
	}

	return pgContainer.Terminate, port.Port(), nil
}

// SetTestDatabaseConfigEnvs points NewDatabaseConfiguration at the test container.
func SetTestDatabaseConfigEnvs(t *testing.T, port string) {
	t.Setenv("WEBGRAPH_DB_HOST", "localhost")
	t.Setenv("WEBGRAPH_DB_PORT", port)
	t.Setenv("WEBGRAPH_DB_DATABASE", testDbName)
	t.Setenv("WEBGRAPH_DB_USERNAME", testDbUser)
	t.Setenv("WEBGRAPH_DB_PASSWORD", testDbPassword)
	t.Setenv("WEBGRAPH_DB_SCHEMA", "public")
	t.Setenv("WEBGRAPH_DB_SSLMODE", "disable")
}

// NewTestDatabase connects to the test container with a debug logger.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(NewPrettyHandler(os.Stdout, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelDebug},
	}))
	return NewDatabase("test_db", config, logger)
}
