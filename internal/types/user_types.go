package types

import "time"

// Identity is the set of profile fields taken from a verified Telegram user.
type Identity struct {
	ExternalID   int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	PhotoURL     string
	IsPremium    bool
	IsBot        bool
}

// UserRecord is a persisted user keyed by its Telegram id.
type UserRecord struct {
	ID           int64
	ExternalID   int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	PhotoURL     string
	IsPremium    bool
	IsBot        bool
	IsActive     bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// PublicUser is what the API returns for a user.
type PublicUser struct {
	ID           int64      `json:"id"`
	TelegramID   int64      `json:"telegram_id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name,omitempty"`
	Username     string     `json:"username,omitempty"`
	LanguageCode string     `json:"language_code,omitempty"`
	PhotoURL     string     `json:"photo_url,omitempty"`
	IsPremium    bool       `json:"is_premium"`
	IsBot        bool       `json:"is_bot"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func (u UserRecord) Public() PublicUser {
	return PublicUser{
		ID:           u.ID,
		TelegramID:   u.ExternalID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		PhotoURL:     u.PhotoURL,
		IsPremium:    u.IsPremium,
		IsBot:        u.IsBot,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLoginAt,
	}
}

// ProfileChanged reports whether id re-supplies any profile field with a
// different non-empty value. Flags count only when set.
func (u UserRecord) ProfileChanged(id Identity) bool {
	changed := func(cur, next string) bool { return next != "" && next != cur }
	return changed(u.FirstName, id.FirstName) ||
		changed(u.LastName, id.LastName) ||
		changed(u.Username, id.Username) ||
		changed(u.LanguageCode, id.LanguageCode) ||
		changed(u.PhotoURL, id.PhotoURL) ||
		(id.IsPremium && !u.IsPremium)
}

// ApplyProfile merges the non-empty fields of id into u.
func (u *UserRecord) ApplyProfile(id Identity) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&u.FirstName, id.FirstName)
	set(&u.LastName, id.LastName)
	set(&u.Username, id.Username)
	set(&u.LanguageCode, id.LanguageCode)
	set(&u.PhotoURL, id.PhotoURL)
	if id.IsPremium {
		u.IsPremium = true
	}
}
