package tests

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// PostgresURL gets a Postgres database URL for test. It always creates a new
// database on the server specified by the PG_URL envvar so tests won't clash
// with each other. The test is skipped when PG_URL isn't set.
func PostgresURL(t *testing.T) string {
	t.Helper()

	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		t.Skip("PG_URL isn't set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var dbName string
	for i := 0; i < 10; i++ {
		dbName = fmt.Sprintf("db%d", r.Uint64())
		_, err = pool.Exec(ctx, "CREATE DATABASE "+dbName+";")
		if err == nil {
			break
		}
	}
	require.NoError(t, err)

	u, err := url.Parse(pgURL)
	require.NoError(t, err)
	u.Path = dbName
	return u.String()
}
