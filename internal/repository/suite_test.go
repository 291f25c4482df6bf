package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runKeyValueStoreSuite exercises the KeyValueStore contract against any
// implementation.
func runKeyValueStoreSuite(t *testing.T, store KeyValueStore) {
	ctx := context.Background()

	t.Run("Get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "ftux:progress", `{"version":1}`))
		got, err := store.Get(ctx, "ftux:progress")
		require.NoError(t, err)
		assert.Equal(t, `{"version":1}`, got)
	})

	t.Run("Set overwrites", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", "one"))
		require.NoError(t, store.Set(ctx, "k", "two"))
		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gone", "x"))
		require.NoError(t, store.Delete(ctx, "gone"))
		_, err := store.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "gone"), "deleting twice is fine")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
