package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// TokenCookie is the cookie the browser OAuth flow stores the access token in.
const TokenCookie = "token"

// contextKey is package-private so no other package can read or shadow the
// values stored under it.
type contextKey string

const (
	userIDKey contextKey = "userID"
	tokenKey  contextKey = "accessToken"
)

var errNoToken = errors.New("auth: no access token")

// RequireAuth rejects requests without a valid access token with 401 and
// stores the user ID (and the raw token) in the context otherwise.
//
// The token is taken from "Authorization: Bearer <jwt>" first, which is what
// the blog's client and blogctl send, then from the "token" cookie set by the
// OAuth callbacks.
//
// An expired token gets error "token_expired" so clients know to refresh
// rather than sign in again.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, userID, err := extractUserID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				if errors.Is(err, ErrTokenExpired) {
					w.Write([]byte(`{"error":"token_expired","message":"access token expired"}`))
					return
				}
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, tokenKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through unchanged. Used on the public comment list.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, userID, err := extractUserID(r, tokens); err == nil {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				ctx = context.WithValue(ctx, tokenKey, raw)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated user's ID, or ("", false) for
// an anonymous request.
//
//	userID, ok := auth.UserIDFromContext(r.Context())
//	if !ok {
//	    // anonymous
//	}
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// AccessTokenFromContext returns the token the request authenticated with.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey).(string)
	return tok, ok && tok != ""
}

// WithUserID returns a context carrying userID, as RequireAuth would.
// Handler tests use it to skip token plumbing.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func extractUserID(r *http.Request, tokens *TokenService) (raw, userID string, err error) {
	raw = bearerToken(r)
	if raw == "" {
		cookie, err := r.Cookie(TokenCookie)
		if err != nil {
			return "", "", errNoToken
		}
		raw = cookie.Value
	}

	userID, err = tokens.Validate(raw)
	if err != nil {
		return "", "", err
	}
	return raw, userID, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
