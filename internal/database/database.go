package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"garagehub/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrMechanicNotFound       = errors.New("mechanic not found")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
)

// DB is the sqlite-backed booking store. It is opened with a single
// connection, so a query must be fully drained before the next one starts.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string { return db.path }

func createTables(db *sql.DB) error {
	queries := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS mechanics (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            phone TEXT,
            lat REAL,
            lng REAL,
            available BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            customer_id INTEGER NOT NULL,
            customer_name TEXT NOT NULL,
            customer_chat_id INTEGER NOT NULL DEFAULT 0,
            service_name TEXT NOT NULL,
            mechanic_id INTEGER REFERENCES mechanics(id),
            status TEXT NOT NULL,
            customer_lat REAL,
            customer_lng REAL,
            scheduled_at DATETIME NOT NULL,
            comment TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS booking_status_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            status TEXT NOT NULL,
            recorded_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_scheduled_at ON bookings(scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer_id ON bookings(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_mechanic_id ON bookings(mechanic_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_booking_id ON booking_status_history(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SeedMechanics upserts the mechanics listed in config.
func (db *DB) SeedMechanics(ctx context.Context, mechanics []models.Mechanic) error {
	for i := range mechanics {
		m := mechanics[i]
		if err := db.UpsertMechanic(ctx, &m); err != nil {
			return fmt.Errorf("seed mechanic %d: %w", m.ID, err)
		}
	}
	db.logger.Info().Int("count", len(mechanics)).Msg("Mechanics seeded")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullPoint(lat, lng sql.NullFloat64) *models.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func pointArgs(p *models.GeoPoint) (lat, lng any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}
