package types

import (
	"time"

	"github.com/google/uuid"
)

// Post is a short text entry authored by a user.
type Post struct {
	ID       uuid.UUID `json:"id"`
	AuthorID uuid.UUID `json:"author_id"`

	// AuthorName is resolved on read and not persisted with the post.
	AuthorName string `json:"author_name,omitempty"`

	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
