package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/repository"
)

// Compile-time check: the build fails here, not at the call site in server,
// if *DB ever stops satisfying CommentRepository.
var _ repository.CommentRepository = (*DB)(nil)

// Page size bounds for ListByPost. The service clamps first; these keep the
// repository safe on its own when called from tests or other code.
const (
	defaultCommentLimit = 100
	maxCommentLimit     = 500
)

// commentSelect is the one SELECT every comment read goes through.
//
// LEFT JOIN, not JOIN: a comment whose author never filled in a profile must
// still be listed (as "Anonymous"). p.user_id is NULL exactly when there is
// no profile row.
//
// COALESCE turns the NULL names of a missing profile into "" so they scan
// into plain strings; profileID (sql.NullString) is what tells "no profile"
// apart from "profile with empty names".
const commentSelect = `
	SELECT c.id, c.post_id, c.user_id, c.content, c.created_at,
	       p.user_id, COALESCE(p.first_name, ''), COALESCE(p.last_name, '')
	FROM comments c
	LEFT JOIN profiles p ON p.user_id = c.user_id`

// Create inserts a comment and reads it back with the author's profile, so
// the caller gets exactly what a later ListByPost would return.
//
// KEY CONCEPTS:
//
//  1. IDS AND TIMES ARE SET HERE:
//     xid gives a 20-char, URL-safe, time-sortable ID. CreatedAt is stored in
//     UTC so the newest-first order does not depend on the server's zone.
//
//  2. INSERT THEN SELECT:
//     SQLite has no "INSERT ... RETURNING with a JOIN", so the row is read
//     back through commentSelect to pick up the profile.
//
//  3. CONSTRAINTS:
//     The schema checks content is non-blank and the user exists. A
//     violation means the service let bad input through, and maps to
//     ErrValidation instead of a 500.
func (db *DB) Create(ctx context.Context, c *model.Comment) (*model.Comment, error) {
	c.ID = xid.New().String()
	c.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, user_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID,
		c.PostID,
		c.UserID,
		c.Content,
		c.CreatedAt,
	)
	if err != nil {
		// %w keeps the driver error reachable for errors.Is/As upstream.
		if isConstraintViolation(err) {
			return nil, apperror.ValidationFailed("content", "comment rejected by database constraints")
		}
		return nil, fmt.Errorf("sqlite: inserting comment on %s: %w", c.PostID, err)
	}

	row := db.conn.QueryRowContext(ctx, commentSelect+` WHERE c.id = ?`, c.ID)
	stored, err := scanComment(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading back comment %s: %w", c.ID, err)
	}
	return stored, nil
}

// ListByPost returns the post's comments newest first. An unknown post is
// not an error: it just has no comments yet.
//
// ORDERING:
// created_at DESC puts the newest first. Two comments can share a timestamp
// when posted in the same instant; c.id DESC breaks the tie, and since xid
// IDs sort by creation time the order stays stable across pages.
//
// PAGINATION:
// LIMIT/OFFSET is enough here: a post has hundreds of comments at most, and
// the panel loads a single page.
func (db *DB) ListByPost(ctx context.Context, postID string, opts repository.ListOptions) ([]model.Comment, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultCommentLimit
	}
	if limit > maxCommentLimit {
		limit = maxCommentLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		commentSelect+`
		WHERE c.post_id = ?
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ? OFFSET ?`,
		postID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments of %s: %w", postID, err)
	}
	// rows holds a connection from the pool until it is closed.
	defer rows.Close()

	// Non-nil so the API encodes [] rather than null.
	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment: %w", err)
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comments: %w", err)
	}

	return comments, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanComment reads one commentSelect row. Profile is only set when the
// LEFT JOIN found a profile row.
func scanComment(s scanner) (*model.Comment, error) {
	var (
		c         model.Comment
		profileID sql.NullString
		p         model.Profile
	)
	if err := s.Scan(
		&c.ID,
		&c.PostID,
		&c.UserID,
		&c.Content,
		&c.CreatedAt,
		&profileID,
		&p.FirstName,
		&p.LastName,
	); err != nil {
		return nil, err
	}
	if profileID.Valid {
		c.Profile = &p
	}
	return &c, nil
}
