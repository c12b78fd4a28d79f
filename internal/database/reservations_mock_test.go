package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskIO = errors.New("disk I/O error")

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return FromSQL(conn, nil), mock
}

func TestCreateReservationWithCap_StorageErrors(t *testing.T) {
	countQuery := regexp.QuoteMeta(`SELECT COUNT(*) FROM reservations WHERE lower(email) = lower(?) AND date = ?`)

	t.Run("count fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(countQuery).WithArgs("alice@example.com", "2025-06-01").WillReturnError(errDiskIO)
		mock.ExpectRollback()

		_, err := db.CreateReservationWithCap(context.Background(), reservation("alice@example.com", "2025-06-01", "08:00", "M1"), 2)
		require.Error(t, err)
		assert.ErrorIs(t, err, errDiskIO)
		assert.NotErrorIs(t, err, ErrSlotTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cap reached skips insert", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(countQuery).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		_, err := db.CreateReservationWithCap(context.Background(), reservation("alice@example.com", "2025-06-01", "08:00", "M1"), 2)
		assert.ErrorIs(t, err, ErrDailyCapExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(countQuery).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reservations`)).WillReturnError(errDiskIO)
		mock.ExpectRollback()

		_, err := db.CreateReservationWithCap(context.Background(), reservation("alice@example.com", "2025-06-01", "08:00", "M1"), 2)
		assert.ErrorIs(t, err, errDiskIO)
		assert.NotErrorIs(t, err, ErrSlotTaken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListReservations_StorageError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, room, date, time, machine, created_at FROM reservations WHERE date = ?`)).
		WithArgs("2025-06-01").
		WillReturnError(errDiskIO)

	got, err := db.ListReservationsByDate(context.Background(), "2025-06-01")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, errDiskIO)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllReservations_StorageError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reservations`)).WillReturnError(errDiskIO)

	_, err := db.DeleteAllReservations(context.Background())
	assert.ErrorIs(t, err, errDiskIO)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReservation_RowsAffected(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM reservations WHERE id = ?`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := db.DeleteReservation(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
