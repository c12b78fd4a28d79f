package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"washbook/internal/models"
)

const reservationColumns = `id, email, room, date, time, machine, created_at`

// CreateReservationWithCap inserts r unless its owner already holds maxPerDay
// reservations on r.Date. Count and insert share one transaction.
func (db *DB) CreateReservationWithCap(ctx context.Context, r *models.Reservation, maxPerDay int) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE lower(email) = lower(?) AND date = ?`,
		r.Email, r.Date,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count reservations: %w", err)
	}
	if count >= maxPerDay {
		return nil, ErrDailyCapExceeded
	}

	createdAt := db.now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (email, room, date, time, machine, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Email, r.Room, r.Date, r.Time, r.Machine, createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("commit: %w", err)
	}

	created := *r
	created.ID = id
	created.CreatedAt = createdAt
	return &created, nil
}

// CountForDay returns how many reservations email holds on date.
func (db *DB) CountForDay(ctx context.Context, email, date string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE lower(email) = lower(?) AND date = ?`,
		email, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return count, nil
}

// ListReservationsByDate returns every reservation on date.
func (db *DB) ListReservationsByDate(ctx context.Context, date string) ([]models.Reservation, error) {
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE date = ? ORDER BY time, machine`,
		date)
}

// ListReservationsByEmail returns the reservations of email ordered by date then time.
func (db *DB) ListReservationsByEmail(ctx context.Context, email string, descending bool) ([]models.Reservation, error) {
	order := "date ASC, time ASC"
	if descending {
		order = "date DESC, time DESC"
	}
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE lower(email) = lower(?) ORDER BY `+order,
		email)
}

// ListReservations returns all reservations.
func (db *DB) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations ORDER BY date, time, machine`)
}

// GetReservation returns a reservation by id or ErrNotFound.
func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.Email, &r.Room, &r.Date, &r.Time, &r.Machine, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &r, nil
}

// DeleteOwnedReservation deletes reservation id if email owns it. A missing id
// and a foreign id both yield ErrNotFound.
func (db *DB) DeleteOwnedReservation(ctx context.Context, id int64, email string) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r models.Reservation
	err = tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? AND lower(email) = lower(?)`,
		id, email,
	).Scan(&r.ID, &r.Email, &r.Room, &r.Date, &r.Time, &r.Machine, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &r, nil
}

// DeleteReservation deletes reservation id regardless of owner.
func (db *DB) DeleteReservation(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteAllReservations empties the table and returns the number of deleted rows.
func (db *DB) DeleteAllReservations(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM reservations`)
	if err != nil {
		return 0, fmt.Errorf("delete reservations: %w", err)
	}
	return result.RowsAffected()
}

// DeleteReservationsBefore removes reservations dated strictly before date (YYYY-MM-DD).
func (db *DB) DeleteReservationsBefore(ctx context.Context, date string) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete old reservations: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...any) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	reservations := make([]models.Reservation, 0)
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.ID, &r.Email, &r.Room, &r.Date, &r.Time, &r.Machine, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return reservations, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
