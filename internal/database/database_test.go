package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	q := `UPDATE subscriptions SET seen = ? WHERE id = ?`

	assert.Equal(t, `UPDATE subscriptions SET seen = $1 WHERE id = $2`, DialectPostgres.Rebind(q))
	assert.Equal(t, q, DialectSQLite.Rebind(q))
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.up.sql":   {Data: []byte("SELECT 1")},
		"m/0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"m/0001_a.down.sql": {Data: []byte("SELECT 1")},
		"m/README.md":       {Data: []byte("docs")},
	}

	names, err := ListMigrations(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestMigrator_ApplyIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := Open(ctx, Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "bot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := NewMigrator(db, dialect, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, m.Apply(ctx))
	require.NoError(t, m.Apply(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)

	_, err = db.ExecContext(ctx, `INSERT INTO users (telegram_id) VALUES (1)`)
	assert.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}
