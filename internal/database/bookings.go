package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"garagehub/internal/models"
)

const bookingColumns = `b.id, b.customer_id, b.customer_name, b.customer_chat_id, b.service_name,
                        b.mechanic_id, b.status, b.customer_lat, b.customer_lng, b.scheduled_at,
                        b.comment, b.created_at, b.updated_at, b.version,
                        m.id, m.name, m.phone, m.lat, m.lng, m.available, m.created_at, m.updated_at`

const bookingFrom = ` FROM bookings b LEFT JOIN mechanics m ON m.id = b.mechanic_id`

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	var (
		status             string
		mechanicID         sql.NullInt64
		custLat, custLng   sql.NullFloat64
		mID                sql.NullInt64
		mName, mPhone      sql.NullString
		mLat, mLng         sql.NullFloat64
		mAvailable         sql.NullBool
		mCreated, mUpdated sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.CustomerName, &b.CustomerChatID, &b.ServiceName,
		&mechanicID, &status, &custLat, &custLng, &b.ScheduledAt,
		&b.Comment, &b.CreatedAt, &b.UpdatedAt, &b.Version,
		&mID, &mName, &mPhone, &mLat, &mLng, &mAvailable, &mCreated, &mUpdated,
	)
	if err != nil {
		return nil, err
	}

	b.Status, _ = models.ParseBookingStatus(status)
	b.MechanicID = mechanicID.Int64
	b.CustomerLocation = nullPoint(custLat, custLng)
	if mID.Valid {
		b.Mechanic = &models.Mechanic{
			ID:        mID.Int64,
			Name:      mName.String,
			Phone:     mPhone.String,
			Location:  nullPoint(mLat, mLng),
			Available: mAvailable.Bool,
			CreatedAt: mCreated.Time,
			UpdatedAt: mUpdated.Time,
		}
	}
	return b, nil
}

// FormatHistoryTime renders a status log timestamp.
func FormatHistoryTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendHistory(ctx context.Context, ex execer, bookingID int64, status models.BookingStatus, at time.Time) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO booking_status_history (booking_id, status, recorded_at) VALUES (?, ?, ?)`,
		bookingID, status.String(), FormatHistoryTime(at))
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// CreateBooking inserts the booking and seeds its status log. A zero status
// becomes Booking Confirmed.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if !booking.Status.IsKnown() {
		booking.Status = models.StatusBookingConfirmed
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	lat, lng := pointArgs(booking.CustomerLocation)
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
                customer_id, customer_name, customer_chat_id, service_name, mechanic_id, status,
                customer_lat, customer_lng, scheduled_at, comment, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		booking.CustomerID,
		booking.CustomerName,
		booking.CustomerChatID,
		booking.ServiceName,
		nullID(booking.MechanicID),
		booking.Status.String(),
		lat, lng,
		booking.ScheduledAt.UTC(),
		booking.Comment,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := appendHistory(ctx, tx, id, booking.Status, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	booking.StatusHistory = []models.StatusHistoryEntry{{Status: booking.Status, Timestamp: FormatHistoryTime(now)}}
	return nil
}

// GetBooking loads a booking with its mechanic and full status log.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+bookingFrom+` WHERE b.id = ?`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	if err := db.loadHistory(ctx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (db *DB) loadHistory(ctx context.Context, booking *models.Booking) error {
	rows, err := db.QueryContext(ctx,
		`SELECT status, recorded_at FROM booking_status_history WHERE booking_id = ? ORDER BY id ASC`, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to load status history: %w", err)
	}
	defer rows.Close()

	booking.StatusHistory = booking.StatusHistory[:0]
	for rows.Next() {
		var status, ts string
		if err := rows.Scan(&status, &ts); err != nil {
			return fmt.Errorf("failed to scan status history: %w", err)
		}
		parsed, _ := models.ParseBookingStatus(status)
		booking.StatusHistory = append(booking.StatusHistory, models.StatusHistoryEntry{Status: parsed, Timestamp: ts})
	}
	return rows.Err()
}

func (db *DB) queryBookings(ctx context.Context, where string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+bookingFrom+` `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// History is loaded after the cursor is released; the pool has one connection.
	for _, b := range bookings {
		if err := db.loadHistory(ctx, b); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

// GetBookingsByDateRange returns bookings scheduled within [start, end].
func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `WHERE b.scheduled_at >= ? AND b.scheduled_at <= ? ORDER BY b.scheduled_at ASC`,
		start.UTC(), end.UTC())
}

func (db *DB) GetCustomerBookings(ctx context.Context, customerID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `WHERE b.customer_id = ? ORDER BY b.scheduled_at DESC`, customerID)
}

// GetBookingsByStatus is used to find bookings with live tracking on startup.
func (db *DB) GetBookingsByStatus(ctx context.Context, status models.BookingStatus) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `WHERE b.status = ? ORDER BY b.id ASC`, status.String())
}

// UpdateBookingStatusWithVersion moves a booking to status if it is still at
// fromVersion and appends the change to the status log atomically.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status models.BookingStatus, at time.Time) error {
	return db.withVersion(ctx, id, fromVersion, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
			status.String(), at.UTC(), id, fromVersion)
	}, status, at)
}

// AssignMechanic sets the mechanic and moves the booking to Mechanic Assigned.
func (db *DB) AssignMechanic(ctx context.Context, bookingID, fromVersion, mechanicID int64, at time.Time) error {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM mechanics WHERE id = ?`, mechanicID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMechanicNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check mechanic: %w", err)
	}

	return db.withVersion(ctx, bookingID, fromVersion, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE bookings SET mechanic_id = ?, status = ?, version = version + 1, updated_at = ?
             WHERE id = ? AND version = ?`,
			mechanicID, models.StatusMechanicAssigned.String(), at.UTC(), bookingID, fromVersion)
	}, models.StatusMechanicAssigned, at)
}

func (db *DB) withVersion(
	ctx context.Context,
	id, fromVersion int64,
	update func(tx *sql.Tx) (sql.Result, error),
	status models.BookingStatus,
	at time.Time,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := update(tx)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		return ErrConcurrentModification
	}

	if err := appendHistory(ctx, tx, id, status, at); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}
	db.logger.Debug().Int64("booking_id", id).Str("status", status.String()).Msg("Booking status updated")
	return nil
}
