package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/auth"
	"github.com/sakif/blog/internal/handler"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MockAuthService records what the handler passed in and returns canned
// results, so the tests never touch SQLite or bcrypt.
type MockAuthService struct {
	Session *model.Session
	User    *model.User
	Profile *model.Profile
	Err     error

	CapturedSignUp   service.SignUpInput
	CapturedEmail    string
	CapturedPassword string
	CapturedRefresh  string
	CapturedIdentity *auth.Identity
	SignedOut        string
}

func (m *MockAuthService) SignUp(_ context.Context, in service.SignUpInput) (*model.Session, error) {
	m.CapturedSignUp = in
	return m.Session, m.Err
}

func (m *MockAuthService) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	m.CapturedEmail, m.CapturedPassword = email, password
	return m.Session, m.Err
}

func (m *MockAuthService) LoginOrRegister(_ context.Context, id *auth.Identity) (*model.Session, error) {
	m.CapturedIdentity = id
	return m.Session, m.Err
}

func (m *MockAuthService) Refresh(_ context.Context, token string) (*model.Session, error) {
	m.CapturedRefresh = token
	return m.Session, m.Err
}

func (m *MockAuthService) SignOut(_ context.Context, userID string) error {
	m.SignedOut = userID
	return m.Err
}

func (m *MockAuthService) CurrentUser(context.Context, string) (*model.User, *model.Profile, error) {
	return m.User, m.Profile, m.Err
}

// MockProvider pretends to be GitHub.
type MockProvider struct {
	Identity *auth.Identity
	Err      error

	CapturedCode     string
	CapturedVerifier string
}

func (p *MockProvider) AuthURL(state, verifier string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *MockProvider) Exchange(_ context.Context, code, verifier string) (*auth.Identity, error) {
	p.CapturedCode, p.CapturedVerifier = code, verifier
	return p.Identity, p.Err
}

func testSession() *model.Session {
	return &model.Session{
		UserID:       "u1",
		Email:        "sakif@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Unix(1_900_000_000, 0).UTC(),
	}
}

// withProvider sets the chi {provider} URL param the router would.
func withProvider(r *http.Request, name string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", name)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

// =========================================================================
// PASSWORD AND TOKEN TESTS
// =========================================================================

func TestAuthHandler_HandleSignUp(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &MockAuthService{Session: testSession()}
		h := handler.NewAuthHandler(svc, nil, "http://localhost:1313", false, testLogger())

		body := `{"email":"sakif@example.com","password":"long-enough","first_name":"Sakif","last_name":"Abdullah"}`
		req := httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()

		h.HandleSignUp(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "Sakif", svc.CapturedSignUp.FirstName)
		assert.Equal(t, "Abdullah", svc.CapturedSignUp.LastName)

		var got model.Session
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "access", got.AccessToken)
		assert.Equal(t, "refresh", got.RefreshToken)
	})

	t.Run("conflict", func(t *testing.T) {
		svc := &MockAuthService{Err: apperror.Conflict("an account with this email already exists")}
		h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/auth/signup",
			bytes.NewBufferString(`{"email":"a@b.c","password":"long-enough"}`))
		rr := httptest.NewRecorder()

		h.HandleSignUp(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "conflict", decodeError(t, rr).Error)
	})

	t.Run("unknown field", func(t *testing.T) {
		svc := &MockAuthService{Session: testSession()}
		h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/auth/signup",
			bytes.NewBufferString(`{"email":"a@b.c","password":"long-enough","admin":true}`))
		rr := httptest.NewRecorder()

		h.HandleSignUp(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decodeError(t, rr).Error)
	})
}

func TestAuthHandler_HandleToken(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		body       string
		err        error
		wantStatus int
		check      func(t *testing.T, svc *MockAuthService)
	}{
		{
			name:       "password grant",
			query:      "?grant_type=password",
			body:       `{"email":"sakif@example.com","password":"secret-pass"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, svc *MockAuthService) {
				assert.Equal(t, "sakif@example.com", svc.CapturedEmail)
				assert.Equal(t, "secret-pass", svc.CapturedPassword)
			},
		},
		{
			name:       "refresh grant",
			query:      "?grant_type=refresh_token",
			body:       `{"refresh_token":"r-123"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, svc *MockAuthService) {
				assert.Equal(t, "r-123", svc.CapturedRefresh)
			},
		},
		{
			name:       "bad credentials",
			query:      "?grant_type=password",
			body:       `{"email":"sakif@example.com","password":"wrong"}`,
			err:        apperror.Unauthorized("invalid email or password"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing grant type",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			query:      "?grant_type=password",
			body:       `{"email":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{Session: testSession(), Err: tt.err}
			h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/auth/token"+tt.query, bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			h.HandleToken(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.check != nil {
				tt.check(t, svc)
			}
		})
	}
}

func TestAuthHandler_HandleLogout(t *testing.T) {
	t.Run("signed in", func(t *testing.T) {
		svc := &MockAuthService{}
		h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
		rr := httptest.NewRecorder()

		h.HandleLogout(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "u1", svc.SignedOut)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.TokenCookie, cookies[0].Name)
		assert.Less(t, cookies[0].MaxAge, 0)
	})

	t.Run("anonymous", func(t *testing.T) {
		svc := &MockAuthService{}
		h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

		rr := httptest.NewRecorder()
		h.HandleLogout(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, svc.SignedOut)
	})
}

func TestAuthHandler_HandleUser(t *testing.T) {
	svc := &MockAuthService{
		User:    &model.User{ID: "u1", Email: "sakif@example.com"},
		Profile: &model.Profile{FirstName: "Sakif", LastName: "Abdullah"},
	}
	h := handler.NewAuthHandler(svc, nil, "", false, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
	rr := httptest.NewRecorder()

	h.HandleUser(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		User    model.User     `json:"user"`
		Profile *model.Profile `json:"profile"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "u1", got.User.ID)
	require.NotNil(t, got.Profile)
	assert.Equal(t, "Sakif", got.Profile.FirstName)
}

// =========================================================================
// OAUTH TESTS
// =========================================================================

func TestAuthHandler_HandleOAuthLogin(t *testing.T) {
	providers := map[string]handler.OAuthProvider{auth.ProviderGitHub: &MockProvider{}}
	h := handler.NewAuthHandler(&MockAuthService{}, providers, "", false, testLogger())

	t.Run("redirects with state and verifier cookies", func(t *testing.T) {
		req := withProvider(httptest.NewRequest(http.MethodGet, "/auth/github/login", nil), auth.ProviderGitHub)
		rr := httptest.NewRecorder()

		h.HandleOAuthLogin(rr, req)

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)

		var state, verifier string
		for _, c := range rr.Result().Cookies() {
			switch c.Name {
			case "oauth_state":
				state = c.Value
			case "oauth_verifier":
				verifier = c.Value
			}
		}
		require.NotEmpty(t, state)
		require.NotEmpty(t, verifier)
		assert.Contains(t, rr.Header().Get("Location"), "state="+state)
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := withProvider(httptest.NewRequest(http.MethodGet, "/auth/twitter/login", nil), "twitter")
		rr := httptest.NewRecorder()

		h.HandleOAuthLogin(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAuthHandler_HandleOAuthCallback(t *testing.T) {
	newRequest := func(query string, cookies ...*http.Cookie) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/auth/github/callback"+query, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		return withProvider(req, auth.ProviderGitHub)
	}
	flow := []*http.Cookie{
		{Name: "oauth_state", Value: "s-1"},
		{Name: "oauth_verifier", Value: "v-1"},
	}

	t.Run("success", func(t *testing.T) {
		provider := &MockProvider{Identity: &auth.Identity{Provider: auth.ProviderGitHub, Subject: "42"}}
		svc := &MockAuthService{Session: testSession()}
		h := handler.NewAuthHandler(svc, map[string]handler.OAuthProvider{auth.ProviderGitHub: provider},
			"http://localhost:1313", false, testLogger())
		rr := httptest.NewRecorder()

		h.HandleOAuthCallback(rr, newRequest("?state=s-1&code=c-1", flow...))

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "c-1", provider.CapturedCode)
		assert.Equal(t, "v-1", provider.CapturedVerifier)
		assert.Equal(t, "42", svc.CapturedIdentity.Subject)

		loc, err := url.Parse(rr.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:1313", loc.Host)
		frag, err := url.ParseQuery(loc.Fragment)
		require.NoError(t, err)
		assert.Equal(t, "access", frag.Get("access_token"))
		assert.Equal(t, "refresh", frag.Get("refresh_token"))
		assert.Equal(t, "1900000000", frag.Get("expires_at"))

		var token string
		for _, c := range rr.Result().Cookies() {
			if c.Name == auth.TokenCookie {
				token = c.Value
			}
		}
		assert.Equal(t, "access", token)
	})

	t.Run("state mismatch", func(t *testing.T) {
		provider := &MockProvider{}
		h := handler.NewAuthHandler(&MockAuthService{}, map[string]handler.OAuthProvider{auth.ProviderGitHub: provider},
			"", false, testLogger())
		rr := httptest.NewRecorder()

		h.HandleOAuthCallback(rr, newRequest("?state=forged&code=c-1", flow...))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, provider.CapturedCode, "code must not be exchanged")
	})

	t.Run("missing cookies", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthService{},
			map[string]handler.OAuthProvider{auth.ProviderGitHub: &MockProvider{}}, "", false, testLogger())
		rr := httptest.NewRecorder()

		h.HandleOAuthCallback(rr, newRequest("?state=s-1&code=c-1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("user denied", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuthService{},
			map[string]handler.OAuthProvider{auth.ProviderGitHub: &MockProvider{}}, "http://site", false, testLogger())
		rr := httptest.NewRecorder()

		h.HandleOAuthCallback(rr, newRequest("?state=s-1&error=access_denied", flow...))

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "http://site/?auth=denied", rr.Header().Get("Location"))
	})

	t.Run("exchange failure", func(t *testing.T) {
		provider := &MockProvider{Err: assert.AnError}
		svc := &MockAuthService{Session: testSession()}
		h := handler.NewAuthHandler(svc, map[string]handler.OAuthProvider{auth.ProviderGitHub: provider},
			"http://site", false, testLogger())
		rr := httptest.NewRecorder()

		h.HandleOAuthCallback(rr, newRequest("?state=s-1&code=c-1", flow...))

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.True(t, strings.HasSuffix(rr.Header().Get("Location"), "auth=failed"))
		assert.Nil(t, svc.CapturedIdentity)
	})
}
