package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/todolist/pkg/config"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	h, err := Open(ctx, config.DriverSQLite, filepath.Join(t.TempDir(), "nested", "todos.db"))
	require.NoError(t, err)

	assert.Equal(t, config.DriverSQLite, h.Driver)
	require.NotNil(t, h.DB)
	require.NoError(t, h.Store.Ping(ctx))
	require.NoError(t, h.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "whatever")
	assert.ErrorContains(t, err, "unsupported database driver")
}
