package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tgauth/internal/auth"
	"tgauth/internal/types"
)

type AuthHandler struct {
	resolver *auth.Resolver
	errors   *ErrorHandler
	maxBody  int64
	now      func() time.Time
}

type AuthResponse struct {
	Success   bool              `json:"success"`
	User      *types.PublicUser `json:"user,omitempty"`
	Token     string            `json:"token,omitempty"`
	TokenType string            `json:"token_type,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	IsNewUser bool              `json:"is_new_user"`
	Message   string            `json:"message,omitempty"`
}

type telegramAuthRequest struct {
	InitData string `json:"init_data"`
}

// TelegramAuth verifies Mini App init data and returns a session token.
func (h *AuthHandler) TelegramAuth(w http.ResponseWriter, r *http.Request) {
	raw, err := h.readInitData(w, r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	res, err := h.resolver.Authenticate(r.Context(), raw, h.now())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	msg := "Login successful"
	if res.IsNewUser {
		msg = "User registered"
	}
	exp := res.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, AuthResponse{
		Success:   true,
		User:      &res.User,
		Token:     res.Token,
		TokenType: "bearer",
		ExpiresAt: &exp,
		IsNewUser: res.IsNewUser,
		Message:   msg,
	})
}

// readInitData accepts `Authorization: tma <data>`, a JSON body with
// init_data, or the raw payload as the body.
func (h *AuthHandler) readInitData(w http.ResponseWriter, r *http.Request) (string, error) {
	if scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "tma") {
		if v := strings.TrimSpace(value); v != "" {
			return v, nil
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", NewTooLargeError()
		}
		return "", NewInvalidRequestError("could not read request body")
	}

	var raw string
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		var req telegramAuthRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", NewInvalidRequestError("invalid JSON body")
		}
		raw = req.InitData
	} else {
		raw = string(body)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewInvalidRequestError("init_data is required")
	}
	return raw, nil
}

// Me returns the stored user, addressed by ?telegram_id= or a bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := h.subject(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	rec, err := h.resolver.Lookup(r.Context(), id)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	pub := rec.Public()
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, User: &pub})
}

func (h *AuthHandler) subject(r *http.Request) (int64, error) {
	q := r.URL.Query()
	rawID := q.Get("telegram_id")
	if rawID == "" {
		rawID = q.Get("external_id")
	}
	if rawID != "" {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			return 0, NewInvalidRequestError("telegram_id must be a positive integer")
		}
		return id, nil
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return 0, NewInvalidRequestError("telegram_id or bearer token is required")
	}
	claims, err := h.resolver.Tokens().Parse(strings.TrimSpace(token))
	if err != nil {
		return 0, NewUnauthorizedError("invalid token")
	}
	return claims.TelegramID, nil
}

func (h *AuthHandler) Test(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Auth router is working"})
}

func root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Telegram Mini App Auth API"})
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
