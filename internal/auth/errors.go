package auth

import (
	"errors"

	"tgauth/internal/telegram"
)

// Caller-visible failure kinds of Authenticate. Conflict on create is
// recovered internally and never returned.
var (
	ErrMalformed        = errors.New("auth: malformed init data")
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrExpired          = errors.New("auth: init data expired")
	ErrMissingUser      = errors.New("auth: no user in init data")
	ErrStoreUnavailable = errors.New("auth: user store unavailable")
)

// Kind returns a short label for err, used for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMissingUser):
		return "missing_user"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

func fromVerifier(err error) error {
	switch {
	case errors.Is(err, telegram.ErrInvalidSignature):
		return ErrInvalidSignature
	case errors.Is(err, telegram.ErrExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

type storeError struct {
	err error
}

func (e *storeError) Error() string { return ErrStoreUnavailable.Error() + ": " + e.err.Error() }

func (e *storeError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *storeError) Unwrap() error { return e.err }

func unavailable(err error) error {
	return &storeError{err: err}
}
