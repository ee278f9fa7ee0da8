package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/auth"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/service"
)

const (
	stateCookie    = "oauth_state"
	verifierCookie = "oauth_verifier"
	oauthCookieTTL = 10 * time.Minute
)

// AuthService is what the auth endpoints need from the service layer.
type AuthService interface {
	SignUp(ctx context.Context, in service.SignUpInput) (*model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	LoginOrRegister(ctx context.Context, id *auth.Identity) (*model.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context, userID string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, *model.Profile, error)
}

// OAuthProvider is one "Sign in with ..." button.
type OAuthProvider interface {
	AuthURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*auth.Identity, error)
}

// AuthHandler serves /auth/*.
type AuthHandler struct {
	svc       AuthService
	providers map[string]OAuthProvider
	siteURL   string // where the OAuth callback sends the browser back to
	secure    bool   // mark cookies Secure (HTTPS deployments)
	logger    *slog.Logger
}

func NewAuthHandler(
	svc AuthService,
	providers map[string]OAuthProvider,
	siteURL string,
	secure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		svc:       svc,
		providers: providers,
		siteURL:   siteURL,
		secure:    secure,
		logger:    logger,
	}
}

// HandleSignUp handles POST /auth/signup.
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var in service.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.svc.SignUp(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type tokenRequest struct {
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// HandleToken handles POST /auth/token?grant_type=password|refresh_token.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		session *model.Session
		err     error
	)
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		session, err = h.svc.SignInWithPassword(r.Context(), req.Email, req.Password)
	case "refresh_token":
		session, err = h.svc.Refresh(r.Context(), req.RefreshToken)
	default:
		err = apperror.ValidationFailed("grant_type", "grant_type must be password or refresh_token")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleLogout handles POST /auth/logout. It revokes the caller's refresh
// tokens and clears the browser cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	if err := h.svc.SignOut(r.Context(), userID); err != nil {
		h.logger.Error("logout failed", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	h.clearCookie(w, auth.TokenCookie)
	w.WriteHeader(http.StatusNoContent)
}

type userResponse struct {
	User    *model.User    `json:"user"`
	Profile *model.Profile `json:"profile"`
}

// HandleUser handles GET /auth/user.
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, profile, err := h.svc.CurrentUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user, Profile: profile})
}

// HandleOAuthLogin handles GET /auth/{provider}/login.
//
// Two short-lived cookies carry the flow to the callback: a random state
// (CSRF protection) and the PKCE verifier.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[chi.URLParam(r, "provider")]
	if !ok {
		writeError(w, apperror.NotFound("provider", chi.URLParam(r, "provider")))
		return
	}

	state := xid.New().String()
	verifier := oauth2.GenerateVerifier()
	h.setFlowCookie(w, stateCookie, state)
	h.setFlowCookie(w, verifierCookie, verifier)

	http.Redirect(w, r, provider.AuthURL(state, verifier), http.StatusTemporaryRedirect)
}

// HandleOAuthCallback handles GET /auth/{provider}/callback.
//
// On success the browser is sent back to the site with the session in the
// URL fragment (never sent to a server), where the client picks it up and
// emits SIGNED_IN.
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.providers[name]
	if !ok {
		writeError(w, apperror.NotFound("provider", name))
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || r.URL.Query().Get("state") != state.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", name))
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	verifier, err := r.Cookie(verifierCookie)
	if err != nil || verifier.Value == "" {
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	h.clearCookie(w, stateCookie)
	h.clearCookie(w, verifierCookie)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth callback: user denied authorization",
			slog.String("provider", name),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, h.siteURL+"/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	identity, err := provider.Exchange(r.Context(), code, verifier.Value)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.siteURL+"/?auth=failed", http.StatusSeeOther)
		return
	}

	session, err := h.svc.LoginOrRegister(r.Context(), identity)
	if err != nil {
		h.logger.Error("oauth callback: sign-in failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, h.siteURL+"/?auth=failed", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    session.AccessToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.siteURL+"/#"+sessionFragment(session), http.StatusSeeOther)
}

func sessionFragment(s *model.Session) string {
	v := url.Values{}
	v.Set("access_token", s.AccessToken)
	v.Set("refresh_token", s.RefreshToken)
	v.Set("expires_at", strconv.FormatInt(s.ExpiresAt.Unix(), 10))
	v.Set("token_type", "bearer")
	return v.Encode()
}

func (h *AuthHandler) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth",
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name != auth.TokenCookie {
		path = "/auth"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
