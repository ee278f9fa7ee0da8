// Package live pushes newly created comments to readers who have a post open,
// so a comment shows up in other tabs without a reload.
//
//	CommentService ──Publish──▶ Hub ──chan──▶ websocket handler ──▶ browser / blogctl watch
//
// Delivery is best effort. A reader that falls behind by more than its
// buffer is disconnected and reloads the list on reconnect; the database
// stays the source of truth.
package live

import (
	"log/slog"
	"sync"

	"github.com/sakif/blog/internal/model"
)

// subscriberBuffer is how many comments a slow reader may lag behind.
const subscriberBuffer = 16

// Hub fans comments out to the subscribers of each post.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	posts map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan model.Comment
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		posts:  make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe returns a channel receiving every comment published for postID
// from now on. The channel is closed by cancel, or by the hub when the
// reader falls too far behind. cancel may be called more than once.
func (h *Hub) Subscribe(postID string) (<-chan model.Comment, func()) {
	sub := &subscriber{ch: make(chan model.Comment, subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.posts[postID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.posts[postID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.drop(postID, sub) }
}

// Publish implements service.Publisher. It never blocks.
func (h *Hub) Publish(c model.Comment) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.posts[c.PostID] {
		select {
		case sub.ch <- c:
		default:
			h.logger.Warn("live: dropping slow subscriber", slog.String("postID", c.PostID))
			h.dropLocked(c.PostID, sub)
		}
	}
}

// Subscribers returns the number of open subscriptions for postID.
func (h *Hub) Subscribers(postID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.posts[postID])
}

func (h *Hub) drop(postID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(postID, sub)
}

func (h *Hub) dropLocked(postID string, sub *subscriber) {
	subs, ok := h.posts[postID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.posts, postID)
	}
}
