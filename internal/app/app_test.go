package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ytakeda/staffwatch/internal/config"
	"github.com/ytakeda/staffwatch/internal/storage/memory"
	"github.com/ytakeda/staffwatch/internal/storage/sqlite"
)

func TestOpenStoreMemory(t *testing.T) {
	t.Parallel()

	store, err := openStore(context.Background(), config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, store)
	require.NoError(t, store.Close())
}

func TestOpenStoreSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.db")
	store, err := openStore(context.Background(), config.StorageConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, store.Close())
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := openStore(context.Background(), config.StorageConfig{Driver: "bolt"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage driver")
}
