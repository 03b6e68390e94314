package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	q, args := listQuery("SELECT * FROM t WHERE 1=1", "closed_at", "ASC", nil, domain.ListOpts{
		Since: &since, Until: &until, Limit: 10, Offset: 5,
	})
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 AND closed_at >= $1 AND closed_at <= $2 ORDER BY closed_at ASC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{since, until, 10, 5}, args)
}

func TestListQuery_ContinuesArgNumbering(t *testing.T) {
	q, args := listQuery("SELECT * FROM t WHERE symbol = $1", "created_at", "DESC", []any{"BTC"}, domain.ListOpts{Limit: 3})
	assert.Equal(t, "SELECT * FROM t WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2", q)
	assert.Equal(t, []any{"BTC", 3}, args)
}

func TestMigrationNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_more.sql": {Data: []byte("SELECT 1")},
		"migrations/001_init.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":    {Data: []byte("docs")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_more.sql"}, names)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	assert.Contains(t, names, "001_init.sql")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/perpbot?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "perpbot"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
