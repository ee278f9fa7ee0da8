package model

import "time"

// AuthEvent names the reason a session changed. The values match the
// event names a browser auth SDK reports, so logs read the same on both ends.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Session is the visitor's authentication state.
//
// A nil *Session means "signed out". A Session is never mutated in place:
// every auth change produces a brand new value that replaces the old one.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Profile      *Profile  `json:"profile,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Equal reports whether two sessions are structurally identical.
// Two nil sessions are equal; nil and non-nil never are.
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.UserID != other.UserID ||
		s.Email != other.Email ||
		s.AccessToken != other.AccessToken ||
		s.RefreshToken != other.RefreshToken ||
		!s.ExpiresAt.Equal(other.ExpiresAt) {
		return false
	}
	if s.Profile == nil || other.Profile == nil {
		return s.Profile == other.Profile
	}
	return *s.Profile == *other.Profile
}

// Clone returns a deep copy so that holders of the copy can never reach the
// original's profile pointer.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Profile != nil {
		p := *s.Profile
		c.Profile = &p
	}
	return &c
}

// Expired reports whether the access token has passed its expiry, with a
// small leeway so a token is not sent moments before it dies.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(10 * time.Second).Before(s.ExpiresAt)
}
