package telegram

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

var ErrNoUser = errors.New("telegram: init data carries no usable user")

// WebAppUser is the decoded user field of init data.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
	IsBot        bool   `json:"is_bot,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// ParseUser decodes the transported (URL-encoded) user value.
func ParseUser(raw string) (WebAppUser, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WebAppUser{}, ErrNoUser
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return WebAppUser{}, ErrNoUser
	}

	var u WebAppUser
	if err := json.Unmarshal([]byte(decoded), &u); err != nil {
		return WebAppUser{}, ErrNoUser
	}
	if u.ID == 0 {
		return WebAppUser{}, ErrNoUser
	}
	return u, nil
}
