// Package model defines the data structures shared by the server and the
// client halves of the blog: accounts, profiles, sessions and comments.
//
// In Go, we use plain structs to represent our data. The `json:"..."` tags
// describe the wire format used by the HTTP API, so the same types travel from
// SQLite → service → handler → JSON → client without any translation layer.
package model

import (
	"strings"
	"time"
)

// AnonymousName is shown for comments whose author has no usable profile.
const AnonymousName = "Anonymous"

// User represents a registered account.
//
// A visitor can sign in with email/password, GitHub or Google. Each identity
// provider gets its own nullable-in-spirit column:
//   - PasswordHash is empty for accounts created through OAuth only
//   - GitHubID is "" until the account signs in with GitHub
//   - GoogleSubject is "" until the account signs in with Google
//
// Email is "" when GitHub hides the primary address.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"` // never serialised
	GitHubID      string    `json:"-"`
	GoogleSubject string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Profile holds the display fields of an account.
//
// Profiles live in their own table and are optional: an account created via
// the API without names simply has no profile row. Every reader must cope
// with a nil *Profile.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName resolves the name shown next to a comment.
//
// The name is derived on every call from whatever profile data is at hand;
// nothing is cached. A nil profile, or one with both names blank, yields
// AnonymousName.
func DisplayName(p *Profile) string {
	if p == nil {
		return AnonymousName
	}
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return AnonymousName
	}
	return name
}
