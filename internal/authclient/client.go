// Package authclient is the front end's connection to the blog's auth API.
//
// It implements session.AuthService: it owns the current session, persists
// it between runs, refreshes an expired access token, and tells registered
// callbacks about every change with the matching model.AuthEvent.
//
//	SignUp / SignInWithPassword / SignInWithRedirect → SIGNED_IN
//	GetSession on an expired token                  → TOKEN_REFRESHED (or SIGNED_OUT)
//	RefreshUser with a changed profile              → USER_UPDATED
//	SignOut (once the server has revoked it)        → SIGNED_OUT
package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/blog/internal/apiclient"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
)

// Client holds the visitor's session.
type Client struct {
	api    *apiclient.Client
	file   *FileStore // nil: memory only
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	session   *model.Session
	loaded    bool
	listeners map[int]func(model.AuthEvent, *model.Session)
	nextID    int
	gen       uint64 // bumped by every set
}

// New creates a Client. file may be nil to keep the session in memory only.
func New(api *apiclient.Client, file *FileStore, logger *slog.Logger) *Client {
	return &Client{
		api:       api,
		file:      file,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(model.AuthEvent, *model.Session)),
	}
}

// OnAuthStateChange registers fn for every future change.
func (c *Client) OnAuthStateChange(fn func(event model.AuthEvent, s *model.Session)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// GetSession returns the current session, nil when signed out.
//
// The first call reads the persisted session. An expired access token is
// refreshed before returning; a refresh token the server rejects signs the
// visitor out. Transport failures during the refresh are returned as errors
// and the stored session is kept for a later attempt.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current == nil || !current.Expired(c.now()) {
		return current, nil
	}

	c.logger.Debug("authclient: access token expired, refreshing", slog.String("userID", current.UserID))
	refreshed, err := c.refresh(ctx, current)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			c.logger.Info("authclient: refresh token rejected, signing out")
			if err := c.set(model.EventSignedOut, nil); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, fmt.Errorf("authclient: refreshing session: %w", err)
	}
	return refreshed, nil
}

// Refresh trades the refresh token for a new session even when the access
// token has not expired yet.
func (c *Client) Refresh(ctx context.Context) (*model.Session, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()
	if current == nil {
		return nil, apperror.Unauthorized("not signed in")
	}
	return c.refresh(ctx, current)
}

func (c *Client) refresh(ctx context.Context, current *model.Session) (*model.Session, error) {
	var next model.Session
	err := c.api.Do(ctx, http.MethodPost, "/auth/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": current.RefreshToken}, &next)
	if err != nil {
		return nil, err
	}
	if next.Profile == nil {
		next.Profile = current.Profile
	}
	if err := c.set(model.EventTokenRefreshed, &next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// SignUpRequest is the body of POST /auth/signup.
type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// SignUp creates an account and signs it in.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*model.Session, error) {
	var s model.Session
	if err := c.api.Do(ctx, http.MethodPost, "/auth/signup", "", req, &s); err != nil {
		return nil, err
	}
	if err := c.set(model.EventSignedIn, &s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// SignInWithPassword signs in an existing email/password account.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var s model.Session
	err := c.api.Do(ctx, http.MethodPost, "/auth/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &s)
	if err != nil {
		return nil, err
	}
	if err := c.set(model.EventSignedIn, &s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// OAuthURL is where a visitor starts signing in with provider ("github" or
// "google").
func (c *Client) OAuthURL(provider string) string {
	return c.api.BaseURL() + "/auth/" + url.PathEscape(provider) + "/login"
}

// SignInWithRedirect completes an OAuth sign-in from the URL the callback
// redirected the browser to. The tokens travel in the URL fragment; the
// account details are then fetched from /auth/user.
func (c *Client) SignInWithRedirect(ctx context.Context, redirectURL string) (*model.Session, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, apperror.ValidationFailed("url", "not a valid URL")
	}
	if reason := u.Query().Get("auth"); reason != "" {
		return nil, apperror.Unauthorized("sign-in " + reason)
	}
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil || frag.Get("access_token") == "" || frag.Get("refresh_token") == "" {
		return nil, apperror.ValidationFailed("url", "the URL does not carry a session")
	}
	expires, err := strconv.ParseInt(frag.Get("expires_at"), 10, 64)
	if err != nil {
		return nil, apperror.ValidationFailed("url", "the URL carries an invalid expiry")
	}

	s := &model.Session{
		AccessToken:  frag.Get("access_token"),
		RefreshToken: frag.Get("refresh_token"),
		ExpiresAt:    time.Unix(expires, 0).UTC(),
	}
	user, err := c.fetchUser(ctx, s.AccessToken)
	if err != nil {
		return nil, err
	}
	s.UserID = user.User.ID
	s.Email = user.User.Email
	s.Profile = user.Profile

	if err := c.set(model.EventSignedIn, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// RefreshUser re-reads the account's profile and emits USER_UPDATED when
// it changed.
func (c *Client) RefreshUser(ctx context.Context) (*model.Session, error) {
	current, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperror.Unauthorized("not signed in")
	}

	user, err := c.fetchUser(ctx, current.AccessToken)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	next.Email = user.User.Email
	next.Profile = user.Profile
	if next.Equal(current) {
		return current, nil
	}
	if err := c.set(model.EventUserUpdated, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

type userResponse struct {
	User    model.User     `json:"user"`
	Profile *model.Profile `json:"profile"`
}

func (c *Client) fetchUser(ctx context.Context, token string) (*userResponse, error) {
	var res userResponse
	if err := c.api.Do(ctx, http.MethodGet, "/auth/user", token, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SignOut asks the server to revoke the session's refresh tokens, then
// forgets the session locally.
//
// An expired access token is refreshed first so the revocation can be
// authorized. When the server cannot be reached or fails, the session is
// kept and the error returned, so the visitor can retry instead of leaving a
// live refresh token behind. A 401, 403 or 404 means the server no longer
// knows the session; that still counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.load(); err != nil {
		return err
	}
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()

	if current != nil {
		err := c.revoke(ctx, current.AccessToken)
		if apiclient.IsTokenExpired(err) {
			// Logout needs a live access token to name the user.
			var refreshed *model.Session
			if refreshed, err = c.refresh(ctx, current); err == nil {
				err = c.revoke(ctx, refreshed.AccessToken)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, apperror.ErrUnauthorized),
			errors.Is(err, apperror.ErrForbidden),
			errors.Is(err, apperror.ErrNotFound):
			c.logger.Info("authclient: server no longer knows the session, signing out locally",
				slog.String("error", err.Error()),
			)
		default:
			return fmt.Errorf("authclient: signing out: %w", err)
		}
	}
	return c.set(model.EventSignedOut, nil)
}

func (c *Client) revoke(ctx context.Context, accessToken string) error {
	return c.api.Do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// load reads the persisted session once.
func (c *Client) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	c.loaded = true
	if c.file == nil {
		return nil
	}
	s, err := c.file.Load()
	if err != nil {
		// A corrupt file must not lock the visitor out; start signed out.
		c.logger.Warn("authclient: ignoring unreadable session file", slog.String("error", err.Error()))
		return nil
	}
	c.session = s
	return nil
}

// set stores s, persists it and notifies the listeners.
//
// Listeners run without c.mu held and may call back into the client. When a
// listener causes a newer set, the older value is not handed to the
// listeners that have not seen it yet.
func (c *Client) set(event model.AuthEvent, s *model.Session) error {
	c.mu.Lock()
	c.loaded = true
	c.session = s.Clone()
	c.gen++
	gen := c.gen
	listeners := make([]func(model.AuthEvent, *model.Session), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	var saveErr error
	if c.file != nil {
		if s == nil {
			saveErr = c.file.Clear()
		} else {
			saveErr = c.file.Save(s)
		}
		if saveErr != nil {
			c.logger.Error("authclient: persisting session failed", slog.String("error", saveErr.Error()))
		}
	}

	c.logger.Debug("authclient: auth state changed", slog.String("event", string(event)))
	for _, fn := range listeners {
		c.mu.Lock()
		superseded := c.gen != gen
		c.mu.Unlock()
		if superseded {
			break
		}
		fn(event, s.Clone())
	}

	if saveErr != nil {
		return fmt.Errorf("authclient: saving session: %w", saveErr)
	}
	return nil
}
