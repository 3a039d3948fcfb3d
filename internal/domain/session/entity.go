package session

import (
	"time"

	"golang.org/x/oauth2"
)

// Storage keys. Values are strings; token values may be sealed.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
	KeyUser         = "user"
)

// AllKeys lists every key a session writes.
func AllKeys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyTokenExpiry, KeyUser}
}

// User is the last-known identity returned by the upstream login.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
}

// Session is the device-held authentication state.
type Session struct {
	Token oauth2.Token
	User  User
}

func (s Session) HasAccessToken() bool {
	return s.Token.AccessToken != ""
}

func (s Session) HasRefreshToken() bool {
	return s.Token.RefreshToken != ""
}

// ExpiredAt reports whether the access token's known expiry is at or before now.
// An unknown (zero) expiry is never considered expired.
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.Token.Expiry.IsZero() && !s.Token.Expiry.After(now)
}

// ExpiresWithin reports whether a known expiry falls inside the given window.
func (s Session) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !s.Token.Expiry.IsZero() && s.Token.Expiry.Before(now.Add(window))
}
