// Package users persists Telegram users. The uniqueness of telegram_id is
// enforced by every Store implementation; a second Create for the same id
// fails with ErrConflict.
package users

import (
	"context"
	"errors"
	"time"

	"tgauth/internal/types"
)

var (
	ErrNotFound = errors.New("users: not found")
	ErrConflict = errors.New("users: already exists")
)

// Store persists users keyed by Telegram id. Find and Touch return ErrNotFound
// for unknown ids; Create returns ErrConflict when the id already exists.
type Store interface {
	FindByExternalID(ctx context.Context, externalID int64) (types.UserRecord, error)
	Create(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, error)
	TouchLastLogin(ctx context.Context, externalID int64, now time.Time) (types.UserRecord, error)
	UpdateProfile(ctx context.Context, id types.Identity) (types.UserRecord, error)
}
