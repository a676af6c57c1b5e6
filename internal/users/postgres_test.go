package users

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgauth/internal/db"
	"tgauth/internal/types"
)

type fakeRow struct{ err error }

func (r fakeRow) Scan(dest ...any) error { return r.err }

type fakeQuerier struct {
	row  pgx.Row
	sql  string
	args []any
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func TestPostgresStore_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, ErrConflict},
	}
	for _, tc := range cases {
		q := &fakeQuerier{row: fakeRow{err: tc.err}}
		_, err := NewPostgresStore(q).Create(context.Background(), types.Identity{ExternalID: 1}, time.Now())
		assert.ErrorIs(t, err, tc.want, tc.name)
	}

	q := &fakeQuerier{row: fakeRow{err: errors.New("conn refused")}}
	_, err := NewPostgresStore(q).FindByExternalID(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: conn refused")
}

func TestPostgresStore_PassesArgs(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	now := time.Unix(1700000000, 0)
	_, _ = NewPostgresStore(q).TouchLastLogin(context.Background(), 42, now)

	assert.Contains(t, q.sql, "UPDATE users SET last_login=$2")
	assert.Equal(t, []any{int64(42), now.UTC()}, q.args)
}

// Runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	d, err := db.Connect(ctx, url, 2)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Migrate(ctx))

	extID := time.Now().UnixNano()
	store := NewPostgresStore(d.Pool)
	now := time.Now().UTC().Truncate(time.Second)

	created, err := store.Create(ctx, types.Identity{ExternalID: extID, FirstName: "Ann"}, now)
	require.NoError(t, err)
	assert.Equal(t, extID, created.ExternalID)

	_, err = store.Create(ctx, types.Identity{ExternalID: extID, FirstName: "Ann"}, now)
	assert.ErrorIs(t, err, ErrConflict)

	later := now.Add(time.Minute)
	touched, err := store.TouchLastLogin(ctx, extID, later)
	require.NoError(t, err)
	require.NotNil(t, touched.LastLoginAt)
	assert.True(t, touched.LastLoginAt.Equal(later))

	updated, err := store.UpdateProfile(ctx, types.Identity{ExternalID: extID, Username: "ann"})
	require.NoError(t, err)
	assert.Equal(t, "ann", updated.Username)
	assert.Equal(t, "Ann", updated.FirstName)

	_, err = store.FindByExternalID(ctx, -extID)
	assert.ErrorIs(t, err, ErrNotFound)
}
