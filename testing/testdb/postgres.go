package testdb

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	sharedMu        sync.Mutex
	sharedContainer *PostgresContainer
	sharedUsers     int
)

// PostgresContainer wraps the postgres testcontainer
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DB        *bun.DB
	DSN       string
}

// SetupSharedPostgres returns a PostgreSQL container shared by every test in
// the package. Each caller must defer Cleanup; the container is terminated
// when the last user is done.
//
// Tests using the shared container CANNOT run in parallel.
//
// Usage:
//
//	func TestMyRepository(t *testing.T) {
//	    pgContainer := testdb.SetupSharedPostgres(t)
//	    defer pgContainer.Cleanup(t)
//
//	    pgContainer.RunMigrations(t, (*user.User)(nil))
//
//	    t.Run("Case", func(t *testing.T) {
//	        testdb.CleanupTables(t, pgContainer.DB, "users")
//	        // ... test
//	    })
//	}
func SetupSharedPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer == nil {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2),
			),
		)
		require.NoError(t, err)

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
		db := bun.NewDB(sqldb, pgdialect.New())
		require.NoError(t, db.Ping())

		sharedContainer = &PostgresContainer{
			Container: pgContainer,
			DB:        db,
			DSN:       connStr,
		}
	}

	sharedUsers++
	return sharedContainer
}

func (pc *PostgresContainer) Cleanup(t *testing.T) {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	sharedUsers--
	if sharedUsers > 0 {
		return
	}

	if pc.DB != nil {
		pc.DB.Close()
	}
	if pc.Container != nil {
		if err := pc.Container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	sharedContainer = nil
}

// RunMigrations creates the tables of models in order.
func (pc *PostgresContainer) RunMigrations(t *testing.T, models ...interface{}) {
	t.Helper()
	ctx := context.Background()

	for _, model := range models {
		_, err := pc.DB.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		require.NoError(t, err, "failed to create table for %T", model)
	}
}

func CleanupTables(t *testing.T, db *bun.DB, tables ...string) {
	t.Helper()

	ctx := context.Background()

	for _, table := range tables {
		_, err := db.ExecContext(ctx, "TRUNCATE "+table+" RESTART IDENTITY CASCADE")
		require.NoError(t, err, "failed to truncate table: %s", table)
	}
}
