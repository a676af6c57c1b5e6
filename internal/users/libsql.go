package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"tgauth/internal/types"
)

// LibSQLStore keeps users in Turso / libSQL (SQLite dialect). Timestamps are
// stored as unix seconds.
type LibSQLStore struct {
	db *sqlx.DB
}

func OpenLibSQL(url, authToken string) (*sqlx.DB, error) {
	dsn := url
	if authToken != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + authToken
	}
	db, err := sqlx.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libsql: %w", err)
	}
	return db, nil
}

// NewLibSQLStore creates a store over an open libsql connection.
func NewLibSQLStore(db *sqlx.DB) *LibSQLStore {
	return &LibSQLStore{db: db}
}

func (s *LibSQLStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			is_premium INTEGER NOT NULL DEFAULT 0,
			is_bot INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			last_login INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS users_username_idx ON users(username)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("libsql migrate: %w", err)
		}
	}
	return nil
}

type libsqlUser struct {
	ID           int64         `db:"id"`
	TelegramID   int64         `db:"telegram_id"`
	FirstName    string        `db:"first_name"`
	LastName     string        `db:"last_name"`
	Username     string        `db:"username"`
	LanguageCode string        `db:"language_code"`
	PhotoURL     string        `db:"photo_url"`
	IsPremium    bool          `db:"is_premium"`
	IsBot        bool          `db:"is_bot"`
	IsActive     bool          `db:"is_active"`
	CreatedAt    int64         `db:"created_at"`
	LastLogin    sql.NullInt64 `db:"last_login"`
}

func (r libsqlUser) record() types.UserRecord {
	u := types.UserRecord{
		ID:           r.ID,
		ExternalID:   r.TelegramID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Username:     r.Username,
		LanguageCode: r.LanguageCode,
		PhotoURL:     r.PhotoURL,
		IsPremium:    r.IsPremium,
		IsBot:        r.IsBot,
		IsActive:     r.IsActive,
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.LastLogin.Valid {
		t := time.Unix(r.LastLogin.Int64, 0).UTC()
		u.LastLoginAt = &t
	}
	return u
}

const libsqlColumns = `id, telegram_id, first_name, last_name, username, language_code, photo_url, is_premium, is_bot, is_active, created_at, last_login`

func (s *LibSQLStore) FindByExternalID(ctx context.Context, externalID int64) (types.UserRecord, error) {
	var row libsqlUser
	err := s.db.GetContext(ctx, &row, `SELECT `+libsqlColumns+` FROM users WHERE telegram_id = ?`, externalID)
	if err != nil {
		return types.UserRecord{}, mapLibSQLError(err)
	}
	return row.record(), nil
}

func (s *LibSQLStore) Create(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, error) {
	var row libsqlUser
	ts := now.Unix()
	err := s.db.GetContext(ctx, &row, `INSERT INTO users (telegram_id, first_name, last_name, username, language_code, photo_url, is_premium, is_bot, is_active, created_at, last_login)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
RETURNING `+libsqlColumns,
		id.ExternalID, id.FirstName, id.LastName, id.Username, id.LanguageCode, id.PhotoURL, id.IsPremium, id.IsBot, ts, ts)
	if err != nil {
		return types.UserRecord{}, mapLibSQLError(err)
	}
	return row.record(), nil
}

func (s *LibSQLStore) TouchLastLogin(ctx context.Context, externalID int64, now time.Time) (types.UserRecord, error) {
	var row libsqlUser
	err := s.db.GetContext(ctx, &row, `UPDATE users SET last_login = ? WHERE telegram_id = ? RETURNING `+libsqlColumns, now.Unix(), externalID)
	if err != nil {
		return types.UserRecord{}, mapLibSQLError(err)
	}
	return row.record(), nil
}

func (s *LibSQLStore) UpdateProfile(ctx context.Context, id types.Identity) (types.UserRecord, error) {
	var row libsqlUser
	err := s.db.GetContext(ctx, &row, `UPDATE users SET
  first_name = COALESCE(NULLIF(?, ''), first_name),
  last_name = COALESCE(NULLIF(?, ''), last_name),
  username = COALESCE(NULLIF(?, ''), username),
  language_code = COALESCE(NULLIF(?, ''), language_code),
  photo_url = COALESCE(NULLIF(?, ''), photo_url),
  is_premium = MAX(is_premium, ?)
WHERE telegram_id = ?
RETURNING `+libsqlColumns,
		id.FirstName, id.LastName, id.Username, id.LanguageCode, id.PhotoURL, id.IsPremium, id.ExternalID)
	if err != nil {
		return types.UserRecord{}, mapLibSQLError(err)
	}
	return row.record(), nil
}

func mapLibSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return fmt.Errorf("db error: %w", err)
}
