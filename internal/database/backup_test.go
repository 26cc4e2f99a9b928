package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"garagehub/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.CreateBooking(context.Background(), newBooking(1, time.Now())))
	db.Close()

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(dbPath, cfg, &logger)

	var backupPath string
	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		backupPath = path

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()
		got, err := restored.GetCustomerBookings(context.Background(), 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, backupPrefix+"20000101_000000.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		foreign := filepath.Join(storagePath, "keep_me.db")
		require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(foreign, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())

		_, err := os.Stat(backupPath)
		assert.NoError(t, err)
		_, err = os.Stat(foreign)
		assert.NoError(t, err)
		_, err = os.Stat(oldFile)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestBackupService_Disabled(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)

	s = NewBackupService(":memory:", config.BackupConfig{Enabled: true}, &logger)
	s.Start(ctx)
	assert.Zero(t, s.CleanupOldBackups())
}
