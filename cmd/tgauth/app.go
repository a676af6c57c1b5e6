package main

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tgauth/internal/auth"
	"tgauth/internal/config"
	"tgauth/internal/db"
	"tgauth/internal/monitoring"
	"tgauth/internal/ratelimit"
	"tgauth/internal/telegram"
	"tgauth/internal/users"
)

// app holds the long-lived dependencies shared by serve and bot.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    users.Store
	resolver *auth.Resolver
	metrics  *monitoring.PrometheusMetrics
	closers  []func()

	// migrateSchema is nil for stores without a schema.
	migrateSchema func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: monitoring.NewPrometheusMetrics()}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	if cfg.MigrateOnStart {
		if err := a.migrateOnStart(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.SecretKey, cfg.Algorithm, cfg.TokenTTL, cfg.TokenIssuer)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.resolver = auth.NewResolver(auth.Config{
		BotToken:       cfg.BotToken,
		InitDataMaxAge: cfg.InitDataMaxAge,
		StoreTimeout:   cfg.StoreTimeout,
	}, store, tokens, auth.WithLogger(log), auth.WithObserver(a.metrics))
	return a, nil
}

func (a *app) openStore(ctx context.Context) (users.Store, error) {
	switch a.cfg.StoreDriver {
	case config.DriverPostgres:
		d, err := db.Connect(ctx, a.cfg.DatabaseURL, int32(a.cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, d.Close)
		a.migrateSchema = d.Migrate
		a.log.Info("user store: postgres")
		return users.NewPostgresStore(d.Pool), nil
	case config.DriverLibSQL:
		sdb, err := users.OpenLibSQL(a.cfg.LibSQLURL, a.cfg.LibSQLAuthToken)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = sdb.Close() })
		a.log.Info("user store: libsql")
		store := users.NewLibSQLStore(sdb)
		a.migrateSchema = store.Migrate
		return store, nil
	case config.DriverMemory:
		a.log.Warn("user store: memory, data is lost on restart")
		return users.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.StoreDriver)
	}
}

func (a *app) migrateOnStart(ctx context.Context) error {
	if a.migrateSchema == nil {
		a.log.Info("schema migration skipped", zap.String("driver", a.cfg.StoreDriver))
		return nil
	}
	if err := a.migrateSchema(ctx); err != nil {
		return fmt.Errorf("migrate on start: %w", err)
	}
	a.log.Info("schema migrated on start", zap.String("driver", a.cfg.StoreDriver))
	return nil
}

// limiter prefers redis so every instance shares the window.
func (a *app) limiter() (ratelimit.Limiter, error) {
	if a.cfg.RateLimitBurst == 0 {
		return nil, nil
	}
	if a.cfg.RedisURL == "" {
		return ratelimit.NewMemory(a.cfg.RateLimitRPS, int(a.cfg.RateLimitBurst), 10*time.Minute), nil
	}
	opts, err := rdb.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := rdb.NewClient(opts)
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.log.Info("rate limiter: redis")
	return ratelimit.NewRedis(client, "tgauth:rl:", a.cfg.RateLimitBurst, a.cfg.RateLimitWindow), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func migrate(ctx context.Context, cfg config.Config) error {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		d, err := db.Connect(ctx, cfg.DatabaseURL, 1)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer d.Close()
		return d.Migrate(ctx)
	case config.DriverLibSQL:
		sdb, err := users.OpenLibSQL(cfg.LibSQLURL, cfg.LibSQLAuthToken)
		if err != nil {
			return err
		}
		defer func(sdb *sqlx.DB) { _ = sdb.Close() }(sdb)
		return users.NewLibSQLStore(sdb).Migrate(ctx)
	default:
		return fmt.Errorf("store driver %q has no migrations", cfg.StoreDriver)
	}
}

// signInitData builds a signed init-data string for local testing.
func signInitData(botToken, userJSON string, authDate time.Time, extra map[string]string) string {
	fields := map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"user":      url.QueryEscape(userJSON),
	}
	for k, v := range extra {
		fields[k] = url.QueryEscape(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(fields)+1)
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	pairs = append(pairs, "hash="+telegram.Sign(fields, botToken))
	return strings.Join(pairs, "&")
}
