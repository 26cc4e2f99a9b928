package database

import (
	"context"
	"path/filepath"
	"testing"

	"garagehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "garage.db")
	db, err := NewDB(path, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())

	// Reopening runs the idempotent schema again.
	db2, err := NewDB(path, nil)
	require.NoError(t, err)
	db2.Close()
}

func TestMechanics(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	loc := models.GeoPoint{Lat: -6.2, Lng: 106.8}
	require.NoError(t, db.SeedMechanics(ctx, []models.Mechanic{
		{ID: 1, Name: "Budi", Phone: "+62811", Location: &loc, Available: true},
		{ID: 2, Name: "Sari"},
	}))

	m, err := db.GetMechanic(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Budi", m.Name)
	require.NotNil(t, m.Location)
	assert.Equal(t, loc, *m.Location)
	assert.True(t, m.Available)

	m2, err := db.GetMechanic(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, m2.Location)

	t.Run("UpsertKeepsLocation", func(t *testing.T) {
		require.NoError(t, db.UpsertMechanic(ctx, &models.Mechanic{ID: 1, Name: "Budi S."}))
		m, err := db.GetMechanic(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Budi S.", m.Name)
		require.NotNil(t, m.Location)
	})

	t.Run("AutoID", func(t *testing.T) {
		m := &models.Mechanic{Name: "New"}
		require.NoError(t, db.UpsertMechanic(ctx, m))
		assert.NotZero(t, m.ID)
	})

	t.Run("UpdateLocation", func(t *testing.T) {
		require.NoError(t, db.UpdateMechanicLocation(ctx, 2, models.GeoPoint{Lat: 1, Lng: 2}))
		m, err := db.GetMechanic(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, m.Location)
		assert.Equal(t, 2.0, m.Location.Lng)

		assert.ErrorIs(t, db.UpdateMechanicLocation(ctx, 99, models.GeoPoint{}), ErrMechanicNotFound)
	})

	t.Run("List", func(t *testing.T) {
		list, err := db.ListMechanics(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})

	_, err = db.GetMechanic(ctx, 404)
	assert.ErrorIs(t, err, ErrMechanicNotFound)
}
