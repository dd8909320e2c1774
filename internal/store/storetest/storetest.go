// Package storetest opens migrated throwaway SQLite databases for tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/store/migrations"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// NewDB returns a migrated database in t.TempDir, closed on cleanup.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	db.SetMaxOpenConns(1)
	return db
}

// SeedTenant inserts a bare tenant row so foreign keys are satisfied.
func SeedTenant(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO tenants (id, name, algorithm, kdf_memory, kdf_time, kdf_parallelism, created_at)
		VALUES (?, ?, 'aes256gcm', 1024, 1, 1, 0)`, id, id)
	require.NoError(t, err)
}

// SeedNamespace inserts a namespace row.
func SeedNamespace(t *testing.T, db *sql.DB, tenant, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO namespaces (tenant_id, name, created_at) VALUES (?, ?, 0)`, tenant, name)
	require.NoError(t, err)
}
