package models

import "time"

// Session — одно устройство/вход пользователя.
type Session struct {
	ID               int64     `db:"id"`
	UserID           int64     `db:"user_id"`
	Token            string    `db:"session_token"`
	RefreshTokenHash string    `db:"refresh_token_hash"`
	IPAddress        *string   `db:"ip_address"`
	UserAgent        *string   `db:"user_agent"`
	ExpiresAt        time.Time `db:"expires_at"`
	LastActivityAt   time.Time `db:"last_activity_at"`
	CreatedAt        time.Time `db:"created_at"`
}

// Expired — сессия с истёкшим сроком считается отсутствующей.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// NewSession — данные для создания сессии при логине.
type NewSession struct {
	UserID       int64
	Token        string
	RefreshToken string
	IP           string
	UserAgent    string
}

type ActivityEntry struct {
	UserID       int64
	Action       string
	ResourceType *string
	ResourceID   *int64
	Details      map[string]any
	IPAddress    *string
	UserAgent    *string
}
