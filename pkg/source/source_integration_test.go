//go:build integration

package source_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoduck/pkg/source"
	"geoduck/pkg/source/sourcetest"
)

func TestStoreLifecycle(t *testing.T) {
	cfg := sourcetest.Start(t)
	ctx := context.Background()

	store, err := source.Open(ctx, cfg.PostgresURL(), cfg.SourceTable, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent
	require.NoError(t, store.Migrate(ctx))

	n, err := store.Seed(ctx, source.SamplePolygons, cfg.SRID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	t.Run("invalid wkt rolls back", func(t *testing.T) {
		_, err := store.Seed(ctx, []string{source.SamplePolygons[0], "POLYGON((broken"}, cfg.SRID)
		assert.Error(t, err)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	require.NoError(t, store.Reset(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMigrateCustomTable(t *testing.T) {
	cfg := sourcetest.Start(t)
	ctx := context.Background()

	store, err := source.Open(ctx, cfg.PostgresURL(), "shapes", nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Migrate(ctx))

	_, err = store.Seed(ctx, source.SamplePolygons[:1], cfg.SRID)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
