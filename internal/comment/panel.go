// Package comment implements the comment panel shown under every post: it
// lists the existing comments and lets a signed-in visitor add one.
//
// A Panel owns its comment list and draft privately; nothing is shared
// between panels. The only shared thing it touches is the session store, and
// only to read it.
//
// USER-VISIBLE FEEDBACK:
// Every submit attempt that reaches a decision produces exactly one
// notification: success when the comment is stored, an error when the server
// call fails or nobody is signed in. Two cases stay silent on purpose and are
// reported through the return value only, for the UI to show inline:
//   - an empty draft (the submit button simply does nothing)
//   - a second submit while the first is still in flight
package comment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/notify"
)

// MaxCommentLength caps a comment body, in characters.
const MaxCommentLength = 5000

var (
	// ErrStaleLoad is returned by a Load whose response arrived after a
	// newer Load was started. Its result is thrown away.
	ErrStaleLoad = errors.New("comment: load superseded by a newer one")
	// ErrClosed is returned by operations on a panel that has been closed.
	ErrClosed = errors.New("comment: panel closed")
)

// SessionSource is the read side of the session store.
type SessionSource interface {
	Session() *model.Session
}

// DataService reads and writes comments in the remote database.
type DataService interface {
	// List returns the post's comments newest first, each with its author's
	// profile when one exists.
	List(ctx context.Context, postID string) ([]model.Comment, error)
	// Insert stores a comment authored by the given session's user and
	// returns the stored record with its profile.
	Insert(ctx context.Context, author model.Session, postID, body string) (*model.Comment, error)
}

// LoadState tells the UI what to render for the list.
type LoadState int

const (
	LoadIdle    LoadState = iota // never loaded
	LoadLoading                  // a load is in flight
	LoadEmpty                    // loaded, no comments yet
	LoadReady                    // loaded, at least one comment
	LoadFailed                   // the last load failed
)

func (s LoadState) String() string {
	switch s {
	case LoadLoading:
		return "loading"
	case LoadEmpty:
		return "empty"
	case LoadReady:
		return "ready"
	case LoadFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome classifies a submit attempt.
type Outcome int

const (
	OutcomePosted       Outcome = iota // stored, prepended, draft cleared
	OutcomeInvalid                     // empty or too long, nothing sent
	OutcomeAuthRequired                // nobody signed in, nothing sent
	OutcomeBusy                        // another submit in flight, nothing sent
	OutcomeFailed                      // the insert failed, draft kept
)

func (o Outcome) String() string {
	switch o {
	case OutcomePosted:
		return "posted"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeAuthRequired:
		return "auth-required"
	case OutcomeBusy:
		return "busy"
	default:
		return "failed"
	}
}

// Messages shown to the visitor.
const (
	msgPosted       = "Your comment was posted."
	msgAuthRequired = "Please sign in to leave a comment."
	msgFailed       = "Your comment could not be posted. Please try again."
	msgLoadFailed   = "Comments could not be loaded."
)

// Panel is the comment section of one post.
type Panel struct {
	postID   string
	sessions SessionSource
	data     DataService
	notifier notify.Notifier
	logger   *slog.Logger

	mu         sync.Mutex
	comments   []model.Comment
	draft      string
	loadState  LoadState
	loadErr    error
	loadSeq    uint64          // token of the newest load
	postedNew  []model.Comment // posted while the newest load was in flight
	submitting bool
	closed     bool
}

// NewPanel creates the panel for postID.
func NewPanel(
	postID string,
	sessions SessionSource,
	data DataService,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Panel {
	return &Panel{
		postID:   postID,
		sessions: sessions,
		data:     data,
		notifier: notifier,
		logger:   logger.With(slog.String("post", postID)),
	}
}

// PostID returns the post this panel belongs to.
func (p *Panel) PostID() string { return p.postID }

// Load fetches the post's comments and replaces the local list.
//
// Each call takes a fresh token. When the response comes back and a newer
// Load has started in the meantime, the response is discarded and
// ErrStaleLoad returned, so the list always reflects the latest request.
// Comments this panel posted while the load was in flight are kept even if
// the response predates them.
func (p *Panel) Load(ctx context.Context) (LoadState, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return LoadIdle, ErrClosed
	}
	p.loadSeq++
	token := p.loadSeq
	p.loadState = LoadLoading
	p.loadErr = nil
	p.postedNew = nil
	p.mu.Unlock()

	comments, err := p.data.List(ctx, p.postID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return LoadIdle, ErrClosed
	}
	if token != p.loadSeq {
		p.logger.Debug("discarding stale comment load", slog.Uint64("token", token))
		return p.loadState, ErrStaleLoad
	}

	if err != nil {
		p.logger.Error("failed to load comments", slog.String("error", err.Error()))
		p.loadState = LoadFailed
		p.loadErr = asUnavailable(msgLoadFailed, err)
		return LoadFailed, p.loadErr
	}

	p.comments = mergePosted(comments, p.postedNew)
	p.postedNew = nil
	if len(p.comments) == 0 {
		p.loadState = LoadEmpty
	} else {
		p.loadState = LoadReady
	}
	return p.loadState, nil
}

// Submit posts body as a new comment.
//
// The steps, in order:
//  1. reject if a submit is already in flight (OutcomeBusy)
//  2. reject an empty or oversized body (OutcomeInvalid)
//  3. read the session; reject if signed out (OutcomeAuthRequired)
//  4. insert once; on success prepend the stored comment and clear the
//     draft together, on failure keep the draft for a retry
//
// If the visitor signs out while the insert is in flight, the insert's own
// result still decides what is shown.
//
// A panel closed while the insert is in flight shows nothing: the outcome is
// still returned (OutcomePosted, or OutcomeFailed with ErrClosed) but no
// notification is sent, because the panel it belongs to is gone.
func (p *Panel) Submit(ctx context.Context, body string) (Outcome, error) {
	trimmed := strings.TrimSpace(body)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return OutcomeFailed, ErrClosed
	}
	if p.submitting {
		p.mu.Unlock()
		return OutcomeBusy, apperror.Busy("a comment is already being posted")
	}
	if trimmed == "" {
		p.mu.Unlock()
		return OutcomeInvalid, apperror.ValidationFailed("content", "comment cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > MaxCommentLength {
		p.mu.Unlock()
		return OutcomeInvalid, apperror.ValidationFailed("content",
			fmt.Sprintf("comment must be %d characters or less", MaxCommentLength))
	}

	author := p.sessions.Session()
	if author == nil {
		p.draft = body
		p.mu.Unlock()
		p.notifier.Notify(notify.Notification{Kind: notify.Error, Message: msgAuthRequired})
		return OutcomeAuthRequired, apperror.Unauthorized("sign in to comment")
	}

	p.submitting = true
	p.draft = body
	p.mu.Unlock()

	created, err := p.data.Insert(ctx, *author, p.postID, trimmed)
	if err == nil && created == nil {
		err = errors.New("insert returned no comment")
	}

	p.mu.Lock()
	p.submitting = false
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("comment submit finished after panel closed")
		if err != nil {
			return OutcomeFailed, ErrClosed
		}
		return OutcomePosted, nil
	}

	if err != nil {
		p.mu.Unlock()
		p.logger.Error("failed to post comment",
			slog.String("userID", author.UserID),
			slog.String("error", err.Error()),
		)
		p.notifier.Notify(notify.Notification{Kind: notify.Error, Message: msgFailed})
		return OutcomeFailed, asUnavailable(msgFailed, err)
	}

	// One atomic UI update: the new comment appears and the input empties.
	p.comments = append([]model.Comment{*created}, p.comments...)
	p.draft = ""
	if p.loadState == LoadLoading {
		p.postedNew = append(p.postedNew, *created)
	}
	if p.loadState == LoadEmpty {
		p.loadState = LoadReady
	}
	p.mu.Unlock()

	p.logger.Info("comment posted",
		slog.String("id", created.ID),
		slog.String("userID", created.UserID),
	)
	p.notifier.Notify(notify.Notification{Kind: notify.Success, Message: msgPosted})
	return OutcomePosted, nil
}

// SetDraft records the text currently in the input.
func (p *Panel) SetDraft(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = text
}

// Draft returns the text currently in the input.
func (p *Panel) Draft() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// Comments returns a snapshot of the list, newest first.
func (p *Panel) Comments() []model.Comment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Comment, len(p.comments))
	copy(out, p.comments)
	return out
}

// State returns the list state and, for LoadFailed, the error.
func (p *Panel) State() (LoadState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadState, p.loadErr
}

// Submitting reports whether a submit is in flight; the UI disables the
// submit button while it is true.
func (p *Panel) Submitting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitting
}

// Close discards the panel. Responses that arrive afterwards are dropped.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// mergePosted puts comments posted during a load in front of the loaded
// list unless the load already contains them.
func mergePosted(loaded, posted []model.Comment) []model.Comment {
	if len(posted) == 0 {
		return loaded
	}
	seen := make(map[string]bool, len(loaded))
	for _, c := range loaded {
		seen[c.ID] = true
	}
	out := make([]model.Comment, 0, len(posted)+len(loaded))
	// posted is oldest first; the list is newest first.
	for i := len(posted) - 1; i >= 0; i-- {
		if !seen[posted[i].ID] {
			out = append(out, posted[i])
		}
	}
	return append(out, loaded...)
}

// asUnavailable keeps typed errors from the data service and wraps anything
// else so internal detail never reaches the visitor.
func asUnavailable(message string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Unavailable(message, err)
}
