package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
)

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, PasswordHash: "$2a$04$hash"}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Email: "  Sara@Example.COM ", PasswordHash: "$2a$04$hash"}

	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.ID == "" {
		t.Error("CreateUser() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set user.CreatedAt")
	}
	if user.Email != "sara@example.com" {
		t.Errorf("Email = %q, want normalised %q", user.Email, "sara@example.com")
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "sara@example.com")

	err := db.CreateUser(context.Background(), &model.User{Email: "SARA@example.com"})

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateUser() error = %v, want ErrConflict", err)
	}
}

func TestCreateUser_ManyWithoutEmail(t *testing.T) {
	db := newTestDB(t)

	// GitHub can hide the email; those accounts must not collide on "".
	for _, sub := range []string{"1", "2"} {
		u := &model.User{GitHubID: sub}
		if err := db.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser(github %s) error = %v", sub, err)
		}
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestGetUserByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "byid@example.com")

	found, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.Email != "byid@example.com" {
		t.Errorf("Email = %q, want %q", found.Email, "byid@example.com")
	}
	if found.PasswordHash != "$2a$04$hash" {
		t.Errorf("PasswordHash = %q, want stored hash", found.PasswordHash)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "nonexistent-id")

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "mixed@example.com")

	found, err := db.GetUserByEmail(context.Background(), "MIXED@Example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
}

func TestGetUserByEmail_EmptyIsNotFound(t *testing.T) {
	db := newTestDB(t)
	db.CreateUser(context.Background(), &model.User{GitHubID: "9"})

	_, err := db.GetUserByEmail(context.Background(), "")

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByEmail(\"\") error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// PROVIDER TESTS
// =========================================================================

func TestLinkAndGetByProvider(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "linked@example.com")

	if err := db.LinkProvider(ctx, user.ID, "google", "google-sub-1"); err != nil {
		t.Fatalf("LinkProvider() error = %v", err)
	}

	found, err := db.GetUserByProvider(ctx, "google", "google-sub-1")
	if err != nil {
		t.Fatalf("GetUserByProvider() error = %v", err)
	}
	if found.ID != user.ID || found.GoogleSubject != "google-sub-1" {
		t.Errorf("found = %+v, want user %s with google subject", found, user.ID)
	}

	if _, err := db.GetUserByProvider(ctx, "github", "google-sub-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("lookup under the wrong provider error = %v, want ErrNotFound", err)
	}
}

func TestLinkProvider_IdentityAlreadyTaken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a@example.com")
	b := createTestUser(t, db, "b@example.com")

	if err := db.LinkProvider(ctx, a.ID, "github", "42"); err != nil {
		t.Fatalf("LinkProvider(a) error = %v", err)
	}
	err := db.LinkProvider(ctx, b.ID, "github", "42")

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("LinkProvider(b) error = %v, want ErrConflict", err)
	}
}

func TestProvider_Unknown(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByProvider(context.Background(), "myspace", "1")

	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

// =========================================================================
// PROFILE TESTS
// =========================================================================

func TestProfile_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "p@example.com")

	got, err := db.GetProfile(ctx, user.ID)
	if err != nil || got != nil {
		t.Fatalf("GetProfile() before upsert = %+v, %v; want nil, nil", got, err)
	}

	if err := db.UpsertProfile(ctx, user.ID, model.Profile{FirstName: " سارا ", LastName: "احمدی"}); err != nil {
		t.Fatalf("UpsertProfile() error = %v", err)
	}
	if err := db.UpsertProfile(ctx, user.ID, model.Profile{FirstName: "Sara", LastName: "Ahmadi"}); err != nil {
		t.Fatalf("UpsertProfile() second call error = %v", err)
	}

	got, err = db.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if *got != (model.Profile{FirstName: "Sara", LastName: "Ahmadi"}) {
		t.Errorf("profile = %+v, want the replaced names", got)
	}
}

func TestProfile_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.UpsertProfile(context.Background(), "ghost", model.Profile{FirstName: "X"})

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpsertProfile() error = %v, want ErrNotFound", err)
	}
}
