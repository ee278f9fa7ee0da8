package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/repository"
)

// compile-time checks that *DB implements the account repositories
var (
	_ repository.UserRepository    = (*DB)(nil)
	_ repository.ProfileRepository = (*DB)(nil)
)

const userColumns = `id, email, password_hash, COALESCE(github_id, ''), COALESCE(google_sub, ''), created_at, updated_at`

// CreateUser inserts a new account.
//
// Email is normalised to lower case so "Sara@Example.com" and
// "sara@example.com" are the same account.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.ID = xid.New().String()
	u.Email = normaliseEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, github_id, google_sub, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		u.PasswordHash,
		nullString(u.GitHubID),
		nullString(u.GoogleSubject),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", u.Email)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user has that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id = ?", id)
}

// GetUserByEmail looks an account up by (case-insensitive) email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = normaliseEmail(email)
	if email == "" {
		return nil, apperror.NotFound("user", email)
	}
	return db.getUser(ctx, "email = ?", email)
}

// GetUserByProvider finds the account linked to an OAuth identity.
func (db *DB) GetUserByProvider(ctx context.Context, provider, subject string) (*model.User, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}
	return db.getUser(ctx, column+" = ?", subject)
}

// LinkProvider attaches an OAuth identity to an existing account.
func (db *DB) LinkProvider(ctx context.Context, userID, provider, subject string) error {
	column, err := providerColumn(provider)
	if err != nil {
		return err
	}

	// column comes from the fixed set in providerColumn, never from input.
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		subject, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(provider+" identity", subject)
		}
		return fmt.Errorf("sqlite: linking %s to user %s: %w", provider, userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where,
		arg,
	).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.GitHubID,
		&u.GoogleSubject,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("sqlite: getting user (%s): %w", where, err)
	}
	return &u, nil
}

// UpsertProfile creates or replaces the display names of userID.
func (db *DB) UpsertProfile(ctx context.Context, userID string, p model.Profile) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, first_name, last_name) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name`,
		userID,
		strings.TrimSpace(p.FirstName),
		strings.TrimSpace(p.LastName),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.NotFound("user", userID)
		}
		return fmt.Errorf("sqlite: upserting profile of %s: %w", userID, err)
	}
	return nil
}

// GetProfile returns nil, nil when the user has no profile row.
func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := db.conn.QueryRowContext(ctx,
		`SELECT first_name, last_name FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.FirstName, &p.LastName)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: getting profile of %s: %w", userID, err)
	}
	return &p, nil
}

func providerColumn(provider string) (string, error) {
	switch provider {
	case "github":
		return "github_id", nil
	case "google":
		return "google_sub", nil
	default:
		return "", apperror.ValidationFailed("provider", "unknown identity provider "+provider)
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
