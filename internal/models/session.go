package models

import "time"

// Session is the credential bundle returned by the auth backend. ExpiresAt is
// epoch seconds, matching the token endpoint's response body.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user,omitempty"`
}

// User identifies the account a session belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IsExpired reports whether the access token's lifetime has passed.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt
}

// IsExpiringSoon reports whether the token is within threshold of expiry.
func (s *Session) IsExpiringSoon(now time.Time, threshold time.Duration) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return now.Unix() >= s.ExpiresAt-int64(threshold.Seconds())
}

// UserID returns the session's user id, or "" when unknown.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}
