package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Provider names, as used in routes and stored identities.
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

// Identity is what an OAuth provider tells us about the person signing in.
type Identity struct {
	Provider  string
	Subject   string // provider's stable user ID
	Email     string
	FirstName string
	LastName  string
}

// OAUTH 2.0 AUTHORIZATION CODE FLOW (with PKCE):
//
//	Browser          Blog server                 Provider
//	   │── GET /login ──▶│                             │
//	   │◀─ 302 + state, verifier cookies ─│            │
//	   │────────── authorize?state&code_challenge ────▶│
//	   │◀──────── 302 /callback?code&state ────────────│
//	   │── GET /callback ▶│── code + verifier ────────▶│
//	   │                  │◀─ access token (+id_token)─│
//	   │◀─ token cookie ──│                            │
//
// state protects the callback against CSRF; the PKCE verifier binds the code
// to the browser that started the flow.

// GitHubProvider signs people in with GitHub.
type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

// GitHubUser is the subset of GitHub's /user response we read.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"` // empty if hidden in GitHub settings
}

func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userURL: "https://api.github.com/user",
	}
}

func (p *GitHubProvider) Name() string { return ProviderGitHub }

// AuthURL returns the consent page URL for state and PKCE verifier.
func (p *GitHubProvider) AuthURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the callback code for the GitHub account behind it.
func (p *GitHubProvider) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	oauthToken, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}

	client := p.config.Client(ctx, oauthToken)

	resp, err := client.Get(p.userURL)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var ghUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if ghUser.ID == 0 {
		return nil, errors.New("auth: GitHub returned an invalid user (ID = 0)")
	}

	return ghUser.identity(), nil
}

func (u *GitHubUser) identity() *Identity {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = u.Login
	}
	first, last, _ := strings.Cut(name, " ")
	return &Identity{
		Provider:  ProviderGitHub,
		Subject:   strconv.FormatInt(u.ID, 10),
		Email:     u.Email,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
	}
}

// GoogleProvider signs people in with Google over OpenID Connect. Unlike
// GitHub there is no extra API call: the identity comes from the id_token,
// verified against Google's published keys.
type GoogleProvider struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider fetches Google's discovery document, so it needs the
// network at startup.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, callbackURL string) (*GoogleProvider, error) {
	if clientID == "" || clientSecret == "" || callbackURL == "" {
		return nil, errors.New("auth: google oauth config missing required fields")
	}

	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("auth: initialising google oidc provider: %w", err)
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

func (p *GoogleProvider) AuthURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// googleClaims are the id_token claims we read.
type googleClaims struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, verifier string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("auth: google did not return an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verifying google id_token: %w", err)
	}

	var c googleClaims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("auth: parsing google id_token claims: %w", err)
	}

	return c.identity()
}

func (c googleClaims) identity() (*Identity, error) {
	if c.Subject == "" || c.Email == "" {
		return nil, errors.New("auth: google id_token missing required claims")
	}
	return &Identity{
		Provider:  ProviderGoogle,
		Subject:   c.Subject,
		Email:     c.Email,
		FirstName: c.GivenName,
		LastName:  c.FamilyName,
	}, nil
}
