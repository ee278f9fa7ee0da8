package model

import "time"

// Comment is one remark attached to a blog post.
//
// PostID is the post's slug (e.g. "first-steps-with-go"), not a foreign
// key: posts are Markdown files rendered by the static site and never live
// in the database.
//
// Profile is whatever profile data accompanied the row when it was read.
// It may be nil (author without a profile row).
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Profile   *Profile  `json:"profiles,omitempty"`
}

// Author returns the display name for the comment, resolved from the
// accompanying profile on every call.
func (c Comment) Author() string {
	return DisplayName(c.Profile)
}
