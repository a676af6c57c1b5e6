package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tgauth/internal/types"
)

const pgUniqueViolation = "23505"

// querier is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	q querier
}

// NewPostgresStore creates a store over a pgx pool or transaction.
func NewPostgresStore(q querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const userColumns = `id, telegram_id, first_name, last_name, username, language_code, photo_url,
       is_premium, is_bot, is_active, created_at, last_login`

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID int64) (types.UserRecord, error) {
	row := s.q.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE telegram_id=$1
`, externalID)
	return scanPgUser(row)
}

func (s *PostgresStore) Create(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, error) {
	row := s.q.QueryRow(ctx, `
INSERT INTO users (telegram_id, first_name, last_name, username, language_code, photo_url, is_premium, is_bot, is_active, created_at, last_login)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9)
RETURNING `+userColumns,
		id.ExternalID, id.FirstName, id.LastName, id.Username, id.LanguageCode, id.PhotoURL, id.IsPremium, id.IsBot, now.UTC())
	return scanPgUser(row)
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, externalID int64, now time.Time) (types.UserRecord, error) {
	row := s.q.QueryRow(ctx, `
UPDATE users SET last_login=$2
WHERE telegram_id=$1
RETURNING `+userColumns, externalID, now.UTC())
	return scanPgUser(row)
}

// UpdateProfile overwrites only the fields id supplies.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id types.Identity) (types.UserRecord, error) {
	row := s.q.QueryRow(ctx, `
UPDATE users SET
  first_name = COALESCE(NULLIF($2, ''), first_name),
  last_name = COALESCE(NULLIF($3, ''), last_name),
  username = COALESCE(NULLIF($4, ''), username),
  language_code = COALESCE(NULLIF($5, ''), language_code),
  photo_url = COALESCE(NULLIF($6, ''), photo_url),
  is_premium = is_premium OR $7
WHERE telegram_id=$1
RETURNING `+userColumns,
		id.ExternalID, id.FirstName, id.LastName, id.Username, id.LanguageCode, id.PhotoURL, id.IsPremium)
	return scanPgUser(row)
}

func scanPgUser(row pgx.Row) (types.UserRecord, error) {
	var u types.UserRecord
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.FirstName, &u.LastName, &u.Username, &u.LanguageCode, &u.PhotoURL,
		&u.IsPremium, &u.IsBot, &u.IsActive, &u.CreatedAt, &u.LastLoginAt,
	)
	if err != nil {
		return types.UserRecord{}, mapPgError(err)
	}
	return u, nil
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return fmt.Errorf("db error: %w", err)
}
