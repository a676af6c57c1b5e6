package telegram

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:TEST-bot-token"

const annUser = "%7B%22id%22%3A123%2C%22first_name%22%3A%22Ann%22%7D"

// signed joins pairs in the given order and appends a hash over the sorted form.
func signed(t *testing.T, pairs [][2]string, token string) string {
	t.Helper()
	fields := map[string]string{}
	parts := make([]string, 0, len(pairs)+1)
	for _, p := range pairs {
		fields[p[0]] = p[1]
		parts = append(parts, p[0]+"="+p[1])
	}
	parts = append(parts, "hash="+Sign(fields, token))
	return strings.Join(parts, "&")
}

func annPayload(t *testing.T, authDate int64) string {
	return signed(t, [][2]string{
		{"user", annUser},
		{"auth_date", strconv.FormatInt(authDate, 10)},
		{"query_id", "AAHdF6IQAAAAAN0XohDhrOrc"},
	}, testBotToken)
}

func TestVerify_Success(t *testing.T) {
	t.Parallel()

	authDate := int64(1700000000)
	raw := annPayload(t, authDate)

	got, err := Verify(raw, testBotToken, time.Unix(authDate+100, 0))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"user":      annUser,
		"auth_date": "1700000000",
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
	}, got.Fields)
	assert.Equal(t, []string{"user", "auth_date", "query_id"}, got.Keys)
	assert.Equal(t, time.Unix(authDate, 0).UTC(), got.AuthDate)
	assert.NotContains(t, got.Fields, "hash")
}

// Hashes computed independently with Python's hmac module over the same fields.
func TestSign_KnownAnswer(t *testing.T) {
	t.Parallel()

	const (
		knownHash   = "19569de425a7f252b2022b810991842175ec3840a728f83c2d2c8309d61bb9ec"
		swappedHash = "5276771dd8142822a3c6c5dd58b58cc5e23a94a73b5ea2657cd4f7169e972ac1"
	)
	fields := map[string]string{
		"user":      annUser,
		"auth_date": "1700000000",
		"query_id":  "abc",
	}
	assert.Equal(t, knownHash, Sign(fields, testBotToken))

	now := time.Unix(1700000100, 0)
	raw := "user=" + annUser + "&auth_date=1700000000&query_id=abc&hash="
	_, err := Verify(raw+knownHash, testBotToken, now)
	require.NoError(t, err)

	// secret keyed by the bot token instead of "WebAppData"
	_, err = Verify(raw+swappedHash, testBotToken, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_EmptyHashIsInvalidSignature(t *testing.T) {
	t.Parallel()

	_, err := Verify("auth_date=1700000000&user="+annUser+"&hash=", testBotToken, time.Unix(1700000100, 0))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_HashFlipFails(t *testing.T) {
	t.Parallel()

	authDate := int64(1700000000)
	raw := annPayload(t, authDate)
	idx := strings.Index(raw, "hash=") + len("hash=")
	hash := raw[idx:]

	for i := range hash {
		flipped := []byte(hash)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		tampered := raw[:idx] + string(flipped)

		_, err := Verify(tampered, testBotToken, time.Unix(authDate, 0))
		require.ErrorIs(t, err, ErrInvalidSignature, "position %d", i)
	}
}

func TestVerify_FreshnessBoundary(t *testing.T) {
	t.Parallel()

	authDate := int64(1700000000)
	raw := annPayload(t, authDate)

	_, err := Verify(raw, testBotToken, time.Unix(authDate+86400, 0))
	assert.NoError(t, err)

	_, err = Verify(raw, testBotToken, time.Unix(authDate+86401, 0))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = Verify(raw, testBotToken, time.Unix(authDate+90000, 0))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_FutureAuthDateAccepted(t *testing.T) {
	t.Parallel()

	authDate := int64(1700000000)
	raw := annPayload(t, authDate)

	_, err := Verify(raw, testBotToken, time.Unix(authDate-3600, 0))
	assert.NoError(t, err)
}

func TestVerify_OrderIndependent(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"auth_date", "1700000000"},
		{"chat_type", "private"},
		{"user", annUser},
	}
	reversed := [][2]string{pairs[2], pairs[0], pairs[1]}

	now := time.Unix(1700000050, 0)
	a, errA := Verify(signed(t, pairs, testBotToken), testBotToken, now)
	b, errB := Verify(signed(t, reversed, testBotToken), testBotToken, now)

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a.Fields, b.Fields)
	assert.Equal(t, a.Hash, b.Hash)
}

func TestVerify_WrongToken(t *testing.T) {
	t.Parallel()

	raw := annPayload(t, 1700000000)
	_, err := Verify(raw, "other:token", time.Unix(1700000000, 0))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_EmptyTokenFailsClosed(t *testing.T) {
	t.Parallel()

	// signed with an empty token, still rejected
	raw := signed(t, [][2]string{{"user", annUser}, {"auth_date", "1700000000"}}, "")
	_, err := Verify(raw, "", time.Unix(1700000000, 0))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	cases := map[string]string{
		"empty":       "",
		"no equals":   "auth_date=1700000000&garbage&hash=abc",
		"no hash":     "auth_date=1700000000&user=x",
		"empty pair":  "auth_date=1700000000&&hash=abc",
		"duplicate":   "auth_date=1&auth_date=2&hash=abc",
		"empty key":   "=v&hash=abc",
		"only spaces": "   ",
	}
	for name, raw := range cases {
		_, err := Verify(raw, testBotToken, now)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestVerify_BadAuthDateAfterValidSignature(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	noDate := signed(t, [][2]string{{"user", annUser}}, testBotToken)
	_, err := Verify(noDate, testBotToken, now)
	assert.ErrorIs(t, err, ErrMalformed)

	badDate := signed(t, [][2]string{{"user", annUser}, {"auth_date", "yesterday"}}, testBotToken)
	_, err = Verify(badDate, testBotToken, now)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_ValueWithEqualsSplitsOnFirst(t *testing.T) {
	t.Parallel()

	raw := signed(t, [][2]string{
		{"auth_date", "1700000000"},
		{"start_param", "a=b=c"},
	}, testBotToken)

	got, err := Verify(raw, testBotToken, time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, "a=b=c", got.Get("start_param"))
}

func TestVerifyWithMaxAge(t *testing.T) {
	t.Parallel()

	raw := annPayload(t, 1700000000)
	_, err := VerifyWithMaxAge(raw, testBotToken, time.Unix(1700000000+601, 0), 10*time.Minute)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCheckString(t *testing.T) {
	t.Parallel()

	got := CheckString(map[string]string{"b": "2", "a": "1", "auth_date": "3"})
	assert.Equal(t, "a=1\nauth_date=3\nb=2", got)
}
