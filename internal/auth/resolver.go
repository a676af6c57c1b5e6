// Package auth turns verified Telegram init data into a local user and a
// session token.
package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tgauth/internal/telegram"
	"tgauth/internal/types"
	"tgauth/internal/users"
)

const DefaultStoreTimeout = 5 * time.Second

type Config struct {
	BotToken       string
	InitDataMaxAge time.Duration
	StoreTimeout   time.Duration
}

// Observer receives the outcome of every Authenticate call.
type Observer interface {
	AuthAttempt(outcome string)
	UserCreated()
}

type Result struct {
	Token     string
	ExpiresAt time.Time
	User      types.PublicUser
	IsNewUser bool
}

// Resolver turns init data into a stored user and a session token.
type Resolver struct {
	cfg      Config
	store    users.Store
	tokens   *TokenIssuer
	log      *zap.Logger
	observer Observer
}

type Option func(*Resolver)

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// NewResolver creates a resolver. Zero durations in cfg take the package defaults.
func NewResolver(cfg Config, store users.Store, tokens *TokenIssuer, opts ...Option) *Resolver {
	if cfg.InitDataMaxAge <= 0 {
		cfg.InitDataMaxAge = telegram.MaxAge
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	r := &Resolver{cfg: cfg, store: store, tokens: tokens, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Authenticate verifies raw init data, upserts its user and issues a token.
func (r *Resolver) Authenticate(ctx context.Context, raw string, now time.Time) (Result, error) {
	res, err := r.authenticate(ctx, raw, now)
	if r.observer != nil {
		r.observer.AuthAttempt(Kind(err))
	}
	if err != nil {
		r.log.Warn("telegram auth rejected", zap.String("kind", Kind(err)), zap.Error(err))
		return Result{}, err
	}
	r.log.Info("telegram auth ok",
		zap.Int64("telegram_id", res.User.TelegramID),
		zap.Bool("is_new_user", res.IsNewUser),
	)
	return res, nil
}

func (r *Resolver) authenticate(ctx context.Context, raw string, now time.Time) (Result, error) {
	data, err := telegram.VerifyWithMaxAge(raw, r.cfg.BotToken, now, r.cfg.InitDataMaxAge)
	if err != nil {
		return Result{}, fromVerifier(err)
	}

	tgUser, err := telegram.ParseUser(data.Get("user"))
	if err != nil {
		return Result{}, ErrMissingUser
	}

	rec, isNew, err := r.Upsert(ctx, IdentityFromWebApp(tgUser), now)
	if err != nil {
		return Result{}, err
	}

	token, exp, err := r.tokens.Issue(rec.ExternalID, rec.Username, now)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Token:     token,
		ExpiresAt: exp,
		User:      rec.Public(),
		IsNewUser: isNew,
	}, nil
}

// Upsert finds the user by Telegram id and refreshes its last login, or
// creates it. A concurrent create for the same id is treated as found.
func (r *Resolver) Upsert(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, bool, error) {
	if id.ExternalID == 0 {
		return types.UserRecord{}, false, ErrMissingUser
	}

	existing, err := r.find(ctx, id.ExternalID)
	switch {
	case err == nil:
		rec, err := r.login(ctx, existing, id, now)
		return rec, false, err
	case !errors.Is(err, users.ErrNotFound):
		return types.UserRecord{}, false, unavailable(err)
	}

	created, err := r.create(ctx, id, now)
	if err == nil {
		if r.observer != nil {
			r.observer.UserCreated()
		}
		return created, true, nil
	}
	if !errors.Is(err, users.ErrConflict) {
		return types.UserRecord{}, false, unavailable(err)
	}

	// another writer created it first
	existing, err = r.find(ctx, id.ExternalID)
	if err != nil {
		return types.UserRecord{}, false, unavailable(err)
	}
	rec, err := r.login(ctx, existing, id, now)
	return rec, false, err
}

func (r *Resolver) login(ctx context.Context, existing types.UserRecord, id types.Identity, now time.Time) (types.UserRecord, error) {
	if existing.ProfileChanged(id) {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
		_, err := r.store.UpdateProfile(ctx, id)
		cancel()
		if err != nil {
			return types.UserRecord{}, unavailable(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	rec, err := r.store.TouchLastLogin(ctx, id.ExternalID, now)
	if err != nil {
		return types.UserRecord{}, unavailable(err)
	}
	return rec, nil
}

func (r *Resolver) find(ctx context.Context, externalID int64) (types.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.FindByExternalID(ctx, externalID)
}

func (r *Resolver) create(ctx context.Context, id types.Identity, now time.Time) (types.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Create(ctx, id, now)
}

// Lookup returns the stored user for a Telegram id.
func (r *Resolver) Lookup(ctx context.Context, externalID int64) (types.UserRecord, error) {
	rec, err := r.find(ctx, externalID)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		return types.UserRecord{}, unavailable(err)
	}
	return rec, err
}

// Tokens exposes the issuer so the HTTP layer can validate bearer tokens.
func (r *Resolver) Tokens() *TokenIssuer { return r.tokens }

func IdentityFromWebApp(u telegram.WebAppUser) types.Identity {
	return types.Identity{
		ExternalID:   u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		PhotoURL:     u.PhotoURL,
		IsPremium:    u.IsPremium,
		IsBot:        u.IsBot,
	}
}
