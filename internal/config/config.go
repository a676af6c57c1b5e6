package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverLibSQL   = "libsql"
	DriverMemory   = "memory"
)

type Config struct {
	BotToken       string        `yaml:"bot_token"`
	SecretKey      string        `yaml:"secret_key"`
	Algorithm      string        `yaml:"algorithm"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	TokenIssuer    string        `yaml:"token_issuer"`
	InitDataMaxAge time.Duration `yaml:"initdata_max_age"`

	HTTPAddr     string   `yaml:"http_addr"`
	CORSOrigins  []string `yaml:"cors_allowed_origins"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`

	StoreDriver     string        `yaml:"store_driver"`
	DatabaseURL     string        `yaml:"database_url"`
	DBMaxConns      int64         `yaml:"db_max_conns"`
	LibSQLURL       string        `yaml:"libsql_url"`
	LibSQLAuthToken string        `yaml:"libsql_auth_token"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`

	RedisURL        string        `yaml:"redis_url"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int64         `yaml:"rate_limit_burst"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	RunBot    bool   `yaml:"run_bot"`
	WebappURL string `yaml:"webapp_url"`

	LogLevel string `yaml:"log_level"`
	Env      string `yaml:"env"`
}

func defaults() Config {
	return Config{
		Algorithm:       "HS256",
		TokenTTL:        1440 * time.Minute,
		InitDataMaxAge:  24 * time.Hour,
		HTTPAddr:        ":8000",
		CORSOrigins:     []string{"*"},
		MaxBodyBytes:    64 << 10,
		DBMaxConns:      10,
		StoreTimeout:    5 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		RateLimitWindow: time.Minute,
		LogLevel:        "info",
		Env:             "dev",
	}
}

// Load reads CONFIG_FILE (YAML) when set, then lets the environment override it.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	cfg.DatabaseURL = normalizeDatabaseURL(cfg.DatabaseURL)
	cfg.RedisURL = normalizeRedisURL(cfg.RedisURL)
	cfg.WebappURL = strings.TrimRight(cfg.WebappURL, "/")
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.StoreDriver = DriverPostgres
		case cfg.LibSQLURL != "":
			cfg.StoreDriver = DriverLibSQL
		default:
			cfg.StoreDriver = DriverMemory
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.BotToken = envString(cfg.BotToken, "TELEGRAM_BOT_TOKEN", "BOT_TOKEN")
	cfg.SecretKey = envString(cfg.SecretKey, "SECRET_KEY", "JWT_SECRET")
	cfg.Algorithm = strings.ToUpper(envString(cfg.Algorithm, "ALGORITHM"))
	if mins := envInt64("ACCESS_TOKEN_EXPIRE_MINUTES", 0); mins > 0 {
		cfg.TokenTTL = time.Duration(mins) * time.Minute
	}
	cfg.TokenIssuer = envString(cfg.TokenIssuer, "TOKEN_ISSUER")
	cfg.InitDataMaxAge = envDuration("INITDATA_MAX_AGE", cfg.InitDataMaxAge)

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.HTTPAddr = envString(cfg.HTTPAddr, "HTTP_ADDR")
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		cfg.CORSOrigins = parseCSV(raw)
	}
	cfg.MaxBodyBytes = envInt64("MAX_BODY_BYTES", cfg.MaxBodyBytes)

	cfg.StoreDriver = envString(cfg.StoreDriver, "STORE_DRIVER")
	cfg.DatabaseURL = envString(cfg.DatabaseURL, "DATABASE_URL")
	cfg.DBMaxConns = envInt64("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.LibSQLURL = envString(cfg.LibSQLURL, "LIBSQL_URL", "TURSO_DATABASE_URL")
	cfg.LibSQLAuthToken = envString(cfg.LibSQLAuthToken, "LIBSQL_AUTH_TOKEN", "TURSO_AUTH_TOKEN")
	cfg.StoreTimeout = envDuration("STORE_TIMEOUT", cfg.StoreTimeout)
	cfg.MigrateOnStart = envBool("MIGRATE_ON_START", cfg.MigrateOnStart)

	cfg.RedisURL = envString(cfg.RedisURL, "REDIS_URL")
	cfg.RateLimitRPS = envFloat64("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = envInt64("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitWindow = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)

	cfg.RunBot = envBool("RUN_BOT", cfg.RunBot)
	cfg.WebappURL = envString(cfg.WebappURL, "WEBAPP_URL")

	cfg.LogLevel = envString(cfg.LogLevel, "LOG_LEVEL")
	cfg.Env = envString(cfg.Env, "APP_ENV")
}

// Validate checks what the HTTP server and the bot cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverLibSQL:
		if c.LibSQLURL == "" {
			errs = append(errs, errors.New("LIBSQL_URL is required for the libsql store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.RateLimitBurst < 0 || c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limits must be >= 0"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be > 0"))
	}
	return errors.Join(errs...)
}

// envString returns the first non-empty variable among keys, or def.
func envString(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func normalizeDatabaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	// Neon sometimes shows `psql 'postgresql://...'` examples. Accept them too.
	if i := strings.Index(s, "postgresql://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "postgres://"); i >= 0 {
		s = s[i:]
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	q := u.Query()
	// pgx does not need channel_binding and may treat it as a runtime param.
	q.Del("channel_binding")
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeRedisURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	// Some consoles show `redis-cli -u redis://...` examples.
	if i := strings.Index(s, "rediss://"); i >= 0 {
		s = s[i:]
	} else if i := strings.Index(s, "redis://"); i >= 0 {
		s = s[i:]
	}

	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = strings.Trim(s[:i], `"'`)
	}
	return s
}

func envInt64(key string, def int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func envBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return def
	}
	switch val {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func parseCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
