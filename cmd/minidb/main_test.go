package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardKnop/minidb/internal/config"
	"github.com/RichardKnop/minidb/internal/minidb"
)

func newTestConfig(t *testing.T) *config.Config {
	ctx := context.Background()

	cfg := config.NewConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "cli.db")

	db, err := minidb.Open(ctx, cfg.DBPath, zap.NewNop())
	require.NoError(t, err)

	aTable, err := db.CreateTable(ctx, "users", []minidb.Column{
		{Name: "id", Type: minidb.ColumnTypeInt},
		{Name: "email", Type: minidb.ColumnTypeText},
	})
	require.NoError(t, err)
	_, err = db.CreateIndex(ctx, "users_email", "users", "email", true)
	require.NoError(t, err)
	for i, email := range []string{"john@example.com", "jane@example.com"} {
		_, _, err := aTable.Insert(ctx, []minidb.Value{minidb.Int(int64(i)), minidb.Text(email)})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close(ctx))

	return cfg
}

func TestRun(t *testing.T) {
	t.Parallel()

	var (
		ctx = context.Background()
		cfg = newTestConfig(t)
	)

	t.Run("info", func(t *testing.T) {
		out := new(bytes.Buffer)
		require.NoError(t, run(ctx, cfg, zap.NewNop(), out, []string{"info"}))
		assert.Contains(t, out.String(), "tables:     1\n")
		assert.Contains(t, out.String(), "indexes:    1\n")
	})

	t.Run("tables", func(t *testing.T) {
		out := new(bytes.Buffer)
		require.NoError(t, run(ctx, cfg, zap.NewNop(), out, []string{"tables"}))
		assert.Contains(t, out.String(), "users (id=1 root=2 next_rowid=3)\n")
		assert.Contains(t, out.String(), "  email text\n")
	})

	t.Run("indexes", func(t *testing.T) {
		out := new(bytes.Buffer)
		require.NoError(t, run(ctx, cfg, zap.NewNop(), out, []string{"indexes", "users"}))
		assert.Contains(t, out.String(), "users_email on users(email) btree unique")
	})

	t.Run("dump", func(t *testing.T) {
		out := new(bytes.Buffer)
		require.NoError(t, run(ctx, cfg, zap.NewNop(), out, []string{"dump", "users"}))
		assert.Contains(t, out.String(), "john@example.com")
		assert.Contains(t, out.String(), "jane@example.com")
		assert.Contains(t, out.String(), "2 rows\n")
	})

	t.Run("checkpoint", func(t *testing.T) {
		out := new(bytes.Buffer)
		require.NoError(t, run(ctx, cfg, zap.NewNop(), out, []string{"checkpoint"}))
		assert.Equal(t, "checkpoint complete\n", out.String())
	})

	t.Run("errors", func(t *testing.T) {
		out := new(bytes.Buffer)
		assert.ErrorIs(t, run(ctx, cfg, zap.NewNop(), out, []string{"dump"}), minidb.ErrInvalid)
		assert.ErrorIs(t, run(ctx, cfg, zap.NewNop(), out, []string{"dump", "orders"}), minidb.ErrInvalid)
		assert.ErrorIs(t, run(ctx, cfg, zap.NewNop(), out, []string{"vacuum"}), minidb.ErrInvalid)
	})
}
