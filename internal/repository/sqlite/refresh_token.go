package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/repository"
)

var _ repository.RefreshTokenRepository = (*DB)(nil)

// CreateRefreshToken stores a refresh token for userID.
func (db *DB) CreateRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, userID, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing refresh token for %s: %w", userID, err)
	}
	return nil
}

// ConsumeRefreshToken deletes token and returns its owner.
//
// Tokens are single use. Two concurrent refreshes with the same token both
// find the row, but only the one whose DELETE removes it wins.
func (db *DB) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (string, error) {
	var (
		userID    string
		expiresAt time.Time
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM refresh_tokens WHERE token = ?`,
		token,
	).Scan(&userID, &expiresAt)
	if err != nil {
		if isNoRows(err) {
			return "", apperror.NotFound("refresh token", "")
		}
		return "", fmt.Errorf("sqlite: looking up refresh token: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return "", fmt.Errorf("sqlite: consuming refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 || !now.Before(expiresAt) {
		return "", apperror.NotFound("refresh token", "")
	}
	return userID, nil
}

// RevokeUserTokens signs userID out everywhere.
func (db *DB) RevokeUserTokens(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: revoking refresh tokens of %s: %w", userID, err)
	}
	return nil
}
