// Package apiclient is the thin JSON-over-HTTP layer the front end's auth
// and comment clients share.
//
// Every failure comes back as an *apperror.AppError:
//   - the server answered with an error status → apperror.FromStatus, using
//     the "message" field of the response body
//   - the request never got an answer, or the answer was not valid JSON →
//     apperror.Unavailable
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/blog/internal/apperror"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// KindTokenExpired is the "error" value the API sends with a 401 for an
// access token that was valid but has expired.
const KindTokenExpired = "token_expired"

// Client talks to the blog API at one base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client. A nil httpClient gets one with a 15s timeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is returned for every non-2xx response. It unwraps to the
// apperror.AppError matching the status.
type Error struct {
	Status int
	Kind   string // the "error" field of the body, e.g. "token_expired"
	App    *apperror.AppError
}

func (e *Error) Error() string {
	return e.App.Error()
}

func (e *Error) Unwrap() error {
	return e.App
}

// IsTokenExpired reports whether err is the API rejecting an expired access
// token.
func IsTokenExpired(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindTokenExpired
}

// Do sends a request with in (if non-nil) as the JSON body and decodes the
// JSON response into out (if non-nil). token, when set, goes into the
// Authorization header.
func (c *Client) Do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("apiclient: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("apiclient: request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apperror.Unavailable("the blog server could not be reached", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Unavailable("the blog server sent an unreadable response", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	// A proxy in front of the API may answer with HTML; keep the status.
	_ = json.Unmarshal(raw, &payload)

	return &Error{
		Status: resp.StatusCode,
		Kind:   payload.Error,
		App:    apperror.FromStatus(resp.StatusCode, payload.Message),
	}
}
