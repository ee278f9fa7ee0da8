// Package commentapi implements comment.DataService over the blog's HTTP API.
package commentapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sakif/blog/internal/apiclient"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
)

// DefaultLimit is how many comments a panel loads.
const DefaultLimit = 100

// Client reads and writes one blog's comments.
type Client struct {
	api   *apiclient.Client
	limit int
}

func New(api *apiclient.Client) *Client {
	return &Client{api: api, limit: DefaultLimit}
}

func commentsPath(postID string) string {
	return "/api/posts/" + url.PathEscape(postID) + "/comments"
}

// List returns the post's comments newest first, each with its author's
// profile when one exists.
func (c *Client) List(ctx context.Context, postID string) ([]model.Comment, error) {
	var comments []model.Comment
	path := commentsPath(postID) + "?limit=" + strconv.Itoa(c.limit)
	if err := c.api.Do(ctx, http.MethodGet, path, "", nil, &comments); err != nil {
		return nil, fmt.Errorf("commentapi: listing %s: %w", postID, err)
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}

type insertRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// Insert stores a comment as author and returns the stored record.
func (c *Client) Insert(ctx context.Context, author model.Session, postID, body string) (*model.Comment, error) {
	if author.AccessToken == "" {
		return nil, apperror.Unauthorized("sign in to comment")
	}

	var stored model.Comment
	err := c.api.Do(ctx, http.MethodPost, commentsPath(postID), author.AccessToken,
		insertRequest{Content: body, UserID: author.UserID}, &stored)
	if err != nil {
		return nil, fmt.Errorf("commentapi: posting to %s: %w", postID, err)
	}
	if stored.ID == "" {
		return nil, apperror.Unavailable("the blog server returned no comment",
			fmt.Errorf("commentapi: empty record for %s", postID))
	}
	return &stored, nil
}

// LiveURL is the websocket address of the post's live comment feed.
func (c *Client) LiveURL(postID string) string {
	base := c.api.BaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + commentsPath(postID) + "/live"
}
