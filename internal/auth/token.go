package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL matches ACCESS_TOKEN_EXPIRE_MINUTES=1440.
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrNoSigningSecret = errors.New("auth: token signing secret is empty")
	ErrInvalidToken    = errors.New("auth: invalid token")
)

// Claims are the session token claims. Subject is the decimal telegram id.
type Claims struct {
	jwt.RegisteredClaims
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
}

// TokenIssuer signs and validates HMAC session tokens.
type TokenIssuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	issuer string
}

// NewTokenIssuer creates a session token issuer. It accepts HS256, HS384 and
// HS512. An empty algorithm means HS256, a non-positive ttl means DefaultTokenTTL.
func NewTokenIssuer(secret, algorithm string, ttl time.Duration, issuer string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrNoSigningSecret
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	var method jwt.SigningMethod
	switch algorithm {
	case jwt.SigningMethodHS256.Alg():
		method = jwt.SigningMethodHS256
	case jwt.SigningMethodHS384.Alg():
		method = jwt.SigningMethodHS384
	case jwt.SigningMethodHS512.Alg():
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported token algorithm %q", algorithm)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), method: method, ttl: ttl, issuer: issuer}, nil
}

func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for the user, valid from now for the configured ttl.
func (i *TokenIssuer) Issue(telegramID int64, username string, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(telegramID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		TelegramID: telegramID,
		Username:   username,
	}
	s, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Parse validates signature, algorithm and expiry.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	return i.parse(tokenString, time.Now)
}

func (i *TokenIssuer) parse(tokenString string, now func() time.Time) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
