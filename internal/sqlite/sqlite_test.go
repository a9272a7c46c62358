package sqlite

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/store"
	"github.com/snake-arena/internal/store/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := New(":memory:", testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestStoreFile(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := New(filepath.Join(t.TempDir(), "arena.db"), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.db")

	db, err := New(path, testLogger())
	require.NoError(t, err)
	u := &domain.User{ID: "u1", Username: "PixelMaster", Email: "pixel@example.com", PasswordHash: "h"}
	require.NoError(t, db.CreateUser(t.Context(), u))
	require.NoError(t, db.Close())

	db, err = New(path, testLogger())
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetUser(t.Context(), "u1")
	require.NoError(t, err)
	require.Equal(t, "PixelMaster", got.Username)
}
