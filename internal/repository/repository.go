// Package repository defines the storage interfaces the service layer
// depends on. internal/repository/sqlite implements them; service tests use
// hand-written fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/blog/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// CommentRepository stores comments. Reads join the author's profile.
type CommentRepository interface {
	// Create stores c, filling ID and CreatedAt, and returns the stored row
	// with its profile.
	Create(ctx context.Context, c *model.Comment) (*model.Comment, error)
	// ListByPost returns the post's comments newest first.
	ListByPost(ctx context.Context, postID string, opts ListOptions) ([]model.Comment, error)
}

// UserRepository stores accounts.
type UserRepository interface {
	// CreateUser inserts u, filling ID and timestamps. Returns
	// apperror.ErrConflict when the email or provider identity is taken.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// GetUserByProvider finds the user linked to an OAuth identity.
	GetUserByProvider(ctx context.Context, provider, subject string) (*model.User, error)
	// LinkProvider attaches an OAuth identity to an existing user.
	LinkProvider(ctx context.Context, userID, provider, subject string) error
}

// ProfileRepository stores display names.
type ProfileRepository interface {
	// UpsertProfile creates or replaces the user's profile.
	UpsertProfile(ctx context.Context, userID string, p model.Profile) error
	// GetProfile returns nil, nil when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// RefreshTokenRepository stores opaque refresh tokens.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error
	// ConsumeRefreshToken deletes token and returns its user. Returns
	// apperror.ErrNotFound when it is unknown, already used, or expired.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (userID string, err error)
	// RevokeUserTokens deletes every refresh token of userID.
	RevokeUserTokens(ctx context.Context, userID string) error
}
