package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sakif/blog/internal/apperror"
	"github.com/sakif/blog/internal/model"
	"github.com/sakif/blog/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives each test a fresh, isolated database that disappears when
// the connection closes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestComment(t *testing.T, db *DB, postID, userID, content string) *model.Comment {
	t.Helper()
	c, err := db.Create(context.Background(), &model.Comment{PostID: postID, UserID: userID, Content: content})
	if err != nil {
		t.Fatalf("failed to create test comment: %v", err)
	}
	return c
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateComment_ReturnsStoredRowWithProfile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "author@example.com")
	if err := db.UpsertProfile(ctx, user.ID, model.Profile{FirstName: "Sara", LastName: "Ahmadi"}); err != nil {
		t.Fatalf("UpsertProfile() error = %v", err)
	}

	stored, err := db.Create(ctx, &model.Comment{PostID: "hello-world", UserID: user.ID, Content: "great post"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Errorf("Create() did not fill ID/CreatedAt: %+v", stored)
	}
	if stored.Content != "great post" || stored.PostID != "hello-world" {
		t.Errorf("stored = %+v, want the inserted fields", stored)
	}
	if stored.Author() != "Sara Ahmadi" {
		t.Errorf("Author() = %q, want %q", stored.Author(), "Sara Ahmadi")
	}
}

func TestCreateComment_WithoutProfileIsAnonymous(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "noname@example.com")

	stored := createTestComment(t, db, "salam-donya", user.ID, "سلام")

	if stored.Profile != nil {
		t.Errorf("Profile = %+v, want nil", stored.Profile)
	}
	if stored.Author() != model.AnonymousName {
		t.Errorf("Author() = %q, want %q", stored.Author(), model.AnonymousName)
	}
}

func TestCreateComment_DatabaseRejectsBlankContent(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "blank@example.com")

	for _, content := range []string{"", "   "} {
		_, err := db.Create(context.Background(), &model.Comment{PostID: "p", UserID: user.ID, Content: content})
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Create(%q) error = %v, want ErrValidation", content, err)
		}
	}
}

func TestCreateComment_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Create(context.Background(), &model.Comment{PostID: "p", UserID: "ghost", Content: "hi"})

	if err == nil {
		t.Fatal("Create() should fail for a user that does not exist")
	}
}

// =========================================================================
// LIST TESTS
// =========================================================================

func TestListByPost_NewestFirstAndScopedToPost(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "lister@example.com")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		_, err := db.conn.Exec(
			`INSERT INTO comments (id, post_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			fmt.Sprintf("c%d", i), "first-steps-with-go", user.ID, content, base.Add(time.Duration(i)*time.Minute),
		)
		if err != nil {
			t.Fatalf("seeding comment: %v", err)
		}
	}
	createTestComment(t, db, "another-post", user.ID, "elsewhere")

	got, err := db.ListByPost(ctx, "first-steps-with-go", repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}

	var order []string
	for _, c := range got {
		order = append(order, c.Content)
	}
	want := []string{"third", "second", "first"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestListByPost_UnknownPostIsEmptyNotNil(t *testing.T) {
	db := newTestDB(t)

	got, err := db.ListByPost(context.Background(), "never-commented", repository.ListOptions{})

	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListByPost() = %#v, want empty non-nil slice", got)
	}
}

func TestListByPost_MixedProfiles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	named := createTestUser(t, db, "named@example.com")
	anon := createTestUser(t, db, "anon@example.com")
	db.UpsertProfile(ctx, named.ID, model.Profile{FirstName: "Reza"})

	createTestComment(t, db, "p", named.ID, "one")
	createTestComment(t, db, "p", anon.ID, "two")

	got, err := db.ListByPost(ctx, "p", repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	authors := map[string]string{}
	for _, c := range got {
		authors[c.Content] = c.Author()
	}
	if authors["one"] != "Reza" || authors["two"] != model.AnonymousName {
		t.Errorf("authors = %v", authors)
	}
}

func TestListByPost_Pagination(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "pager@example.com")
	for i := 0; i < 5; i++ {
		createTestComment(t, db, "p", user.ID, fmt.Sprintf("c%d", i))
	}

	page, err := db.ListByPost(context.Background(), "p", repository.ListOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	if len(page) != 1 {
		t.Errorf("len = %d, want 1 (last page)", len(page))
	}
}
