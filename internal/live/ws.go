package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sakif/blog/internal/model"
)

const writeTimeout = 10 * time.Second

// Event is one message on the feed.
type Event struct {
	Type    string         `json:"type"` // "comment"
	Comment *model.Comment `json:"comment,omitempty"`
}

// Handler upgrades requests to a websocket and streams a post's new comments.
type Handler struct {
	hub     *Hub
	origins []string
	logger  *slog.Logger
}

// NewHandler creates a Handler. origins are host patterns allowed to open
// the socket cross-origin, e.g. "sakif.dev"; same-origin always works.
func NewHandler(hub *Hub, origins []string, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, origins: origins, logger: logger}
}

// ServePost streams comments for postID until the client goes away.
func (h *Handler) ServePost(w http.ResponseWriter, r *http.Request, postID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("live: failed to accept websocket", slog.String("error", err.Error()))
		return
	}

	comments, cancel := h.hub.Subscribe(postID)
	defer cancel()

	h.logger.Debug("live: reader connected", slog.String("postID", postID))

	// Readers never send anything; CloseRead handles pings and reports the
	// close through ctx.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case c, ok := <-comments:
			if !ok {
				ws.Close(websocket.StatusPolicyViolation, "reader too slow")
				return
			}
			if err := writeEvent(ctx, ws, Event{Type: "comment", Comment: &c}); err != nil {
				h.logger.Debug("live: write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}

// Watch connects to a feed URL (ws:// or wss://) and calls fn for every new
// comment until ctx is cancelled or the server closes the feed.
// It returns nil when ctx ends the watch.
func Watch(ctx context.Context, url string, fn func(model.Comment)) error {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("live: dialing %s: %w", url, err)
	}
	defer ws.CloseNow()

	for {
		var ev Event
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("live: reading feed: %w", err)
		}
		if ev.Type == "comment" && ev.Comment != nil {
			fn(*ev.Comment)
		}
	}
}
