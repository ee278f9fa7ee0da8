// Authentication flows.
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository, ProfileRepository,
//	                   ↘ TokenService (JWT)              RefreshTokenRepository (DB)
//
// Every successful sign-in path (sign-up, password, GitHub, Google, refresh)
// ends in issueSession, so all of them hand the client the same shape: a
// model.Session with an access token, a refresh token and the profile.

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/auth"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/repository"
)

// RefreshTokenTTL is how long a session survives without activity.
const RefreshTokenTTL = 30 * 24 * time.Hour

// msgBadCredentials is deliberately the same for unknown email and wrong
// password so the API does not reveal which accounts exist.
const msgBadCredentials = "invalid email or password"

// AuthService handles sign-up, sign-in, refresh and sign-out.
type AuthService struct {
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	refresh   repository.RefreshTokenRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	profiles repository.ProfileRepository,
	refresh repository.RefreshTokenRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		profiles:  profiles,
		refresh:   refresh,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
	}
}

// SignUpInput is the body of POST /auth/signup.
type SignUpInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SignUp creates an email/password account and signs it in. Names are
// optional; without them the account's comments show as anonymous.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*model.Session, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPolicy(in.Password); err != nil {
		return nil, apperror.ValidationFailed("password", fmt.Sprintf(
			"password must be at least %d characters and at most %d bytes",
			auth.MinPasswordLength, auth.MaxPasswordBytes))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("account", email)
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	if err := s.saveNames(ctx, user.ID, in.FirstName, in.LastName); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID))
	return s.issueSession(ctx, user)
}

// SignInWithPassword checks email and password and issues a session.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	// OAuth-only accounts have no password and can never match.
	if user.PasswordHash == "" {
		return nil, apperror.Unauthorized(msgBadCredentials)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Warn("failed password sign-in", slog.String("userID", user.ID))
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user signed in", slog.String("userID", user.ID), slog.String("method", "password"))
	return s.issueSession(ctx, user)
}

// LoginOrRegister handles an OAuth callback.
//
// Lookup order:
//  1. an account already linked to this provider identity
//  2. an account with the same (provider-verified) email, which gets linked
//  3. otherwise a new account
//
// Names from the provider are stored only when the account has no profile
// yet, so a visitor who edited their name keeps it.
func (s *AuthService) LoginOrRegister(ctx context.Context, id *auth.Identity) (*model.Session, error) {
	if id == nil || id.Subject == "" {
		return nil, fmt.Errorf("service/auth: identity must have a subject")
	}

	user, err := s.users.GetUserByProvider(ctx, id.Provider, id.Subject)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.linkOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up %s identity: %w", id.Provider, err)
	}

	existing, err := s.profiles.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: reading profile: %w", err)
	}
	if existing == nil {
		if err := s.saveNames(ctx, user.ID, id.FirstName, id.LastName); err != nil {
			return nil, err
		}
	}

	s.logger.Info("user signed in",
		slog.String("userID", user.ID),
		slog.String("method", id.Provider),
	)
	return s.issueSession(ctx, user)
}

func (s *AuthService) linkOrCreate(ctx context.Context, id *auth.Identity) (*model.User, error) {
	if id.Email != "" {
		user, err := s.users.GetUserByEmail(ctx, id.Email)
		if err == nil {
			if err := s.users.LinkProvider(ctx, user.ID, id.Provider, id.Subject); err != nil {
				return nil, fmt.Errorf("service/auth: linking %s to %s: %w", id.Provider, user.ID, err)
			}
			return user, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/auth: looking up user by email: %w", err)
		}
	}

	user := &model.User{Email: id.Email}
	switch id.Provider {
	case auth.ProviderGitHub:
		user.GitHubID = id.Subject
	case auth.ProviderGoogle:
		user.GoogleSubject = id.Subject
	default:
		return nil, apperror.ValidationFailed("provider", "unknown identity provider "+id.Provider)
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating %s user: %w", id.Provider, err)
	}
	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("method", id.Provider))
	return user, nil
}

// Refresh trades a refresh token for a new session. The old refresh token
// is consumed; replaying it fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, apperror.ValidationFailed("refresh_token", "refresh token is required")
	}

	userID, err := s.refresh.ConsumeRefreshToken(ctx, refreshToken, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid refresh token")
		}
		return nil, fmt.Errorf("service/auth: consuming refresh token: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	s.logger.Debug("session refreshed", slog.String("userID", userID))
	return s.issueSession(ctx, user)
}

// SignOut revokes every refresh token of userID. Access tokens already
// handed out stay valid until they expire.
func (s *AuthService) SignOut(ctx context.Context, userID string) error {
	if err := s.refresh.RevokeUserTokens(ctx, userID); err != nil {
		return fmt.Errorf("service/auth: signing out %s: %w", userID, err)
	}
	s.logger.Info("user signed out", slog.String("userID", userID))
	return nil
}

// CurrentUser returns the account and profile (nil when absent) behind a
// validated access token.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, *model.Profile, error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("service/auth: user ID must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("service/auth: fetching profile of %s: %w", userID, err)
	}
	return user, profile, nil
}

// issueSession mints an access token and a refresh token for user.
func (s *AuthService) issueSession(ctx context.Context, user *model.User) (*model.Session, error) {
	access, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	refresh := xid.New().String()
	if err := s.refresh.CreateRefreshToken(ctx, refresh, user.ID, s.now().Add(RefreshTokenTTL)); err != nil {
		return nil, fmt.Errorf("service/auth: storing refresh token: %w", err)
	}

	profile, err := s.profiles.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching profile of %s: %w", user.ID, err)
	}

	return &model.Session{
		UserID:       user.ID,
		Email:        user.Email,
		Profile:      profile,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *AuthService) saveNames(ctx context.Context, userID, first, last string) error {
	p := model.Profile{FirstName: strings.TrimSpace(first), LastName: strings.TrimSpace(last)}
	if p.FirstName == "" && p.LastName == "" {
		return nil
	}
	if err := s.profiles.UpsertProfile(ctx, userID, p); err != nil {
		return fmt.Errorf("service/auth: saving profile of %s: %w", userID, err)
	}
	return nil
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}
