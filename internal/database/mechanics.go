package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"garagehub/internal/models"
)

const mechanicColumns = `id, name, phone, lat, lng, available, created_at, updated_at`

func (db *DB) UpsertMechanic(ctx context.Context, m *models.Mechanic) error {
	now := time.Now().UTC()
	lat, lng := pointArgs(m.Location)
	query := `INSERT INTO mechanics (id, name, phone, lat, lng, available, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                phone = excluded.phone,
                lat = COALESCE(excluded.lat, mechanics.lat),
                lng = COALESCE(excluded.lng, mechanics.lng),
                available = excluded.available,
                updated_at = excluded.updated_at`
	result, err := db.ExecContext(ctx, query, nullID(m.ID), m.Name, m.Phone, lat, lng, m.Available, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert mechanic: %w", err)
	}
	if m.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		m.ID = id
	}
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	return nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func scanMechanic(row rowScanner) (*models.Mechanic, error) {
	m := &models.Mechanic{}
	var phone sql.NullString
	var lat, lng sql.NullFloat64
	if err := row.Scan(&m.ID, &m.Name, &phone, &lat, &lng, &m.Available, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Phone = phone.String
	m.Location = nullPoint(lat, lng)
	return m, nil
}

func (db *DB) GetMechanic(ctx context.Context, id int64) (*models.Mechanic, error) {
	row := db.QueryRowContext(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE id = ?`, id)
	m, err := scanMechanic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMechanicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mechanic: %w", err)
	}
	return m, nil
}

func (db *DB) ListMechanics(ctx context.Context) ([]*models.Mechanic, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+mechanicColumns+` FROM mechanics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mechanics: %w", err)
	}
	defer rows.Close()

	var mechanics []*models.Mechanic
	for rows.Next() {
		m, err := scanMechanic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mechanic: %w", err)
		}
		mechanics = append(mechanics, m)
	}
	return mechanics, rows.Err()
}

func (db *DB) UpdateMechanicLocation(ctx context.Context, id int64, location models.GeoPoint) error {
	result, err := db.ExecContext(ctx,
		`UPDATE mechanics SET lat = ?, lng = ?, updated_at = ? WHERE id = ?`,
		location.Lat, location.Lng, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update mechanic location: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrMechanicNotFound
	}
	return nil
}
