package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 17, 30, 0, 0, time.UTC)

	t.Run("Defaults", func(t *testing.T) {
		from, to, err := parseRange("", "", now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), from)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), to)
	})

	t.Run("Explicit", func(t *testing.T) {
		from, to, err := parseRange("2024-01-01", "2024-01-31", now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, 1, from.Day())
		assert.Equal(t, 31, to.Day())
	})

	t.Run("Invalid", func(t *testing.T) {
		_, _, err := parseRange("01/01/2024", "", now, time.UTC)
		assert.Error(t, err)
	})

	t.Run("Reversed", func(t *testing.T) {
		_, _, err := parseRange("2024-02-01", "2024-01-01", now, time.UTC)
		assert.Error(t, err)
	})
}
