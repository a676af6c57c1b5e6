package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgauth/internal/types"
)

var libsqlCols = []string{
	"id", "telegram_id", "first_name", "last_name", "username", "language_code", "photo_url",
	"is_premium", "is_bot", "is_active", "created_at", "last_login",
}

func newLibSQLWithMock(t *testing.T) (*LibSQLStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewLibSQLStore(sqlx.NewDb(mockDB, "libsql")), mock
}

func TestLibSQL_FindByExternalID(t *testing.T) {
	store, mock := newLibSQLWithMock(t)

	rows := sqlmock.NewRows(libsqlCols).
		AddRow(int64(1), int64(123), "Ann", "", "ann", "en", "", false, false, true, int64(1700000000), int64(1700000100))
	mock.ExpectQuery(`SELECT .+ FROM users WHERE telegram_id = \?`).
		WithArgs(int64(123)).
		WillReturnRows(rows)

	u, err := store.FindByExternalID(context.Background(), 123)
	require.NoError(t, err)
	assert.Equal(t, int64(123), u.ExternalID)
	assert.Equal(t, "ann", u.Username)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), u.CreatedAt)
	require.NotNil(t, u.LastLoginAt)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), *u.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLibSQL_FindByExternalID_NotFound(t *testing.T) {
	store, mock := newLibSQLWithMock(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE telegram_id = \?`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindByExternalID(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLibSQL_Create(t *testing.T) {
	store, mock := newLibSQLWithMock(t)
	now := time.Unix(1700000100, 0)

	rows := sqlmock.NewRows(libsqlCols).
		AddRow(int64(7), int64(123), "Ann", "", "", "", "", false, false, true, now.Unix(), now.Unix())
	mock.ExpectQuery(`(?s)INSERT INTO users .+ RETURNING`).
		WithArgs(int64(123), "Ann", "", "", "", "", false, false, now.Unix(), now.Unix()).
		WillReturnRows(rows)

	u, err := store.Create(context.Background(), types.Identity{ExternalID: 123, FirstName: "Ann"}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.True(t, u.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLibSQL_Create_Conflict(t *testing.T) {
	store, mock := newLibSQLWithMock(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(errors.New("SQLite error: UNIQUE constraint failed: users.telegram_id"))

	_, err := store.Create(context.Background(), types.Identity{ExternalID: 123, FirstName: "Ann"}, time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLibSQL_TouchLastLogin(t *testing.T) {
	store, mock := newLibSQLWithMock(t)
	now := time.Unix(1700000500, 0)

	rows := sqlmock.NewRows(libsqlCols).
		AddRow(int64(7), int64(123), "Ann", "", "", "", "", false, false, true, int64(1700000000), now.Unix())
	mock.ExpectQuery(`UPDATE users SET last_login = \? WHERE telegram_id = \? RETURNING`).
		WithArgs(now.Unix(), int64(123)).
		WillReturnRows(rows)

	u, err := store.TouchLastLogin(context.Background(), 123, now)
	require.NoError(t, err)
	require.NotNil(t, u.LastLoginAt)
	assert.Equal(t, now.UTC(), *u.LastLoginAt)
}

func TestLibSQL_DBErrorWrapped(t *testing.T) {
	store, mock := newLibSQLWithMock(t)

	mock.ExpectQuery(`UPDATE users SET`).
		WillReturnError(errors.New("connection reset"))

	_, err := store.UpdateProfile(context.Background(), types.Identity{ExternalID: 1, Username: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "db error: connection reset")
}

func TestLibSQL_Migrate(t *testing.T) {
	store, mock := newLibSQLWithMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS users_username_idx`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
