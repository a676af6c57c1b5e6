package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxAge is how old auth_date may be before init data is rejected.
const MaxAge = 24 * time.Hour

var (
	ErrMalformed        = errors.New("telegram: malformed init data")
	ErrInvalidSignature = errors.New("telegram: invalid init data signature")
	ErrExpired          = errors.New("telegram: init data expired")
)

// InitData is a verified init-data payload. Fields holds every transported
// pair except hash, with values exactly as they arrived (not URL-decoded).
type InitData struct {
	Fields   map[string]string
	Keys     []string
	Hash     string
	AuthDate time.Time
}

func (d InitData) Get(key string) string {
	return d.Fields[key]
}

// Verify checks a Telegram WebApp initData string against the bot token.
func Verify(raw, botToken string, now time.Time) (InitData, error) {
	return VerifyWithMaxAge(raw, botToken, now, MaxAge)
}

// VerifyWithMaxAge is Verify with a configurable freshness window.
// auth_date values in the future are accepted.
func VerifyWithMaxAge(raw, botToken string, now time.Time, maxAge time.Duration) (InitData, error) {
	fields, keys, err := parse(raw)
	if err != nil {
		return InitData{}, err
	}

	providedHash, ok := fields["hash"]
	if !ok {
		return InitData{}, ErrMalformed
	}
	delete(fields, "hash")
	keys = without(keys, "hash")

	// no secret configured: nothing can verify
	if botToken == "" {
		return InitData{}, ErrInvalidSignature
	}

	expected := Sign(fields, botToken)
	if !hmac.Equal([]byte(expected), []byte(providedHash)) {
		return InitData{}, ErrInvalidSignature
	}

	rawDate, ok := fields["auth_date"]
	if !ok {
		return InitData{}, ErrMalformed
	}
	authDate, err := strconv.ParseInt(rawDate, 10, 64)
	if err != nil {
		return InitData{}, ErrMalformed
	}
	if now.Unix()-authDate > int64(maxAge/time.Second) {
		return InitData{}, ErrExpired
	}

	return InitData{
		Fields:   fields,
		Keys:     keys,
		Hash:     providedHash,
		AuthDate: time.Unix(authDate, 0).UTC(),
	}, nil
}

// Sign computes the hex hash Telegram attaches to a field set. fields must not
// contain hash.
func Sign(fields map[string]string, botToken string) string {
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	secretKey := secret.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(CheckString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckString builds data_check_string: key=value sorted by key, joined with \n.
func CheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, "\n")
}

func parse(raw string) (map[string]string, []string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrMalformed
	}

	pairs := strings.Split(raw, "&")
	fields := make(map[string]string, len(pairs))
	keys := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, nil, ErrMalformed
		}
		if _, dup := fields[key]; dup {
			return nil, nil, ErrMalformed
		}
		fields[key] = value
		keys = append(keys, key)
	}
	return fields, keys, nil
}

func without(keys []string, drop string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}
