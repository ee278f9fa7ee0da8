package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/auth"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/service"
)

// CommentService is what the comment endpoints need from the service layer.
//
// Declared here, where it is consumed, so handler tests can pass a
// MockCommentService without a database behind it.
type CommentService interface {
	List(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error)
	Create(ctx context.Context, callerID string, in service.CreateCommentInput) (*model.Comment, error)
}

// LiveFeed streams a post's new comments over a websocket.
type LiveFeed interface {
	ServePost(w http.ResponseWriter, r *http.Request, postID string)
}

// CommentHandler serves /api/posts/{postID}/comments.
//
// WHAT THIS LAYER DOES:
// Only HTTP. It reads the post ID from the URL, the page from the query and
// the comment from the body, then hands plain values to CommentService.
// Every rule (who may post, how long a comment may be) lives in the service;
// every error goes through writeError, which picks the status code.
type CommentHandler struct {
	svc    CommentService
	live   LiveFeed
	logger *slog.Logger
}

func NewCommentHandler(svc CommentService, live LiveFeed, logger *slog.Logger) *CommentHandler {
	return &CommentHandler{svc: svc, live: live, logger: logger}
}

// HandleList returns a post's comments, newest first.
//
// HTTP: GET /api/posts/{postID}/comments?limit=&offset=
//
// RESPONSE FORMAT:
//
//	[
//	  {"id":"...","post_id":"hello-world","user_id":"...","content":"Great post!",
//	   "created_at":"...","profiles":{"first_name":"Sakif","last_name":"Abdullah"}},
//	  ...
//	]
//
// "profiles" is left out when the author never set a name; the client shows
// them as Anonymous. A post nobody commented on yet returns [], never null.
func (h *CommentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")

	// A missing limit or offset reads as 0 and the service picks its default.
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	comments, err := h.svc.List(r.Context(), postID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

type createCommentRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id,omitempty"`
}

// HandleCreate stores a new comment for the signed-in caller.
//
// HTTP: POST /api/posts/{postID}/comments (behind RequireAuth)
//
// REQUEST BODY:
//
//	{"content": "Great post!", "user_id": "<caller's id>"}
//
// Returns 201 with the stored comment, profile included, so the panel can
// prepend it without reloading the list.
func (h *CommentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	// RequireAuth already rejected anonymous requests; this guards against the
	// route being mounted without it.
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("sign in to comment"))
		return
	}

	var req createCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.svc.Create(r.Context(), userID, service.CreateCommentInput{
		PostID:  chi.URLParam(r, "postID"),
		UserID:  req.UserID,
		Content: req.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleLive upgrades to a websocket that receives each new comment on the
// post as one JSON message.
//
// HTTP: GET /api/posts/{postID}/comments/live
//
// Reading needs no sign-in, same as HandleList.
func (h *CommentHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.live.ServePost(w, r, chi.URLParam(r, "postID"))
}

// queryInt reads an optional integer query parameter. Absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
