// Package service contains the business logic of the blog API.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// Services take repository interfaces, never *sqlite.DB, so tests pass
// in-memory fakes and the HTTP layer never sees SQL.
//
// WHERE COMMENTS COME FROM:
// The blog itself is a static site. Each post page embeds a comment panel
// that talks to this API:
//
//	GET  /api/posts/{postID}/comments  → CommentService.List
//	POST /api/posts/{postID}/comments  → CommentService.Create → live feed
//
// The service never learns about HTTP. The caller's identity arrives as a
// plain user ID that the auth middleware already pulled out of the token.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/repository"
)

// Validation constants.
//
// MaxCommentLength counts characters (runes), not bytes: a Persian comment
// uses two bytes per letter and must get the same room as an English one.
// DefaultListLimit matches the page size the comment panel asks for.
const (
	MaxCommentLength = 5000
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// postIDPattern matches post slugs in either language, e.g.
// "hello-world" or "سلام-دنیا".
//
// \p{L} is "any letter in any script" and \p{N} "any digit", so the same
// pattern accepts Latin and Persian slugs. There is no "/" in a slug; the
// language is part of the slug itself, not a path prefix.
var postIDPattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}_-]{0,199}$`)

// Publisher receives every stored comment. The live feed implements it.
//
// The interface lives here, next to its only caller, and not in the live
// package. live.Hub satisfies it without importing service, so the
// dependency arrow keeps pointing one way: server wires them together.
type Publisher interface {
	Publish(c model.Comment)
}

// CommentService handles business logic for comments.
//
// STRUCT FIELDS:
// - repo: where comments are stored (injected; sqlite in production)
// - publisher: pushes new comments to open live feeds (may be nil)
// - logger: structured logging of business events
type CommentService struct {
	repo      repository.CommentRepository
	publisher Publisher
	logger    *slog.Logger
}

// NewCommentService creates a CommentService. publisher may be nil.
func NewCommentService(repo repository.CommentRepository, publisher Publisher, logger *slog.Logger) *CommentService {
	return &CommentService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateCommentInput is the body of POST /api/posts/{postID}/comments.
type CreateCommentInput struct {
	PostID  string
	UserID  string // optional; must match the caller when present
	Content string
}

// Create validates and stores a comment written by callerID.
//
// WHO IS THE AUTHOR?
// callerID comes from the verified access token, never from the body. The
// body may still name a user_id (the blog's client always does). When it
// disagrees with the token the request is refused with 403, so a client
// holding a stale identity fails loudly instead of posting as someone else.
//
// THE ORDER OF CHECKS:
//  1. signed in at all?             → ErrUnauthorized (401)
//  2. post ID a valid slug?         → ErrValidation   (400)
//  3. body user_id matches caller?  → ErrForbidden    (403)
//  4. content non-empty, not long?  → ErrValidation   (400)
//
// Cheap identity checks run before content checks, so an anonymous caller
// learns "sign in" and not "your comment is too long".
func (s *CommentService) Create(ctx context.Context, callerID string, in CreateCommentInput) (*model.Comment, error) {
	if callerID == "" {
		return nil, apperror.Unauthorized("sign in to comment")
	}
	if err := validatePostID(in.PostID); err != nil {
		return nil, err
	}
	if in.UserID != "" && in.UserID != callerID {
		return nil, apperror.Forbidden("cannot comment on behalf of another user")
	}

	// === VALIDATE CONTENT ===
	// Store the trimmed text: "  hi  " and "hi" are the same comment.
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("comment must be %d characters or less", MaxCommentLength))
	}

	// === STORE ===
	// The repository fills in ID and CreatedAt and returns the row joined
	// with the author's profile, ready to render.
	stored, err := s.repo.Create(ctx, &model.Comment{
		PostID:  in.PostID,
		UserID:  callerID,
		Content: content,
	})
	if err != nil {
		s.logger.Error("failed to create comment",
			slog.String("postID", in.PostID),
			slog.String("userID", callerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating comment: %w", err)
	}

	s.logger.Info("comment created",
		slog.String("id", stored.ID),
		slog.String("postID", stored.PostID),
		slog.String("userID", stored.UserID),
	)

	// === FAN OUT ===
	// Only after the row is committed: a feed never shows a comment that a
	// reload would not.
	if s.publisher != nil {
		s.publisher.Publish(*stored)
	}
	return stored, nil
}

// List returns a post's comments newest first, each with its author's
// profile if there is one.
//
// Anyone may read comments, so there is no caller here. Out-of-range limit
// and offset values are clamped to the nearest allowed value, not rejected.
func (s *CommentService) List(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error) {
	if err := validatePostID(postID); err != nil {
		return nil, err
	}

	// === PAGINATION ===
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	comments, err := s.repo.ListByPost(ctx, postID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list comments",
			slog.String("postID", postID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing comments: %w", err)
	}

	return comments, nil
}

// validatePostID is shared by List and Create. An unknown but well-formed
// post ID is fine: it simply has no comments yet.
func validatePostID(postID string) error {
	if !postIDPattern.MatchString(postID) {
		return apperror.ValidationFailed("postID", "post ID must be a slug of letters, digits, - or _")
	}
	return nil
}
