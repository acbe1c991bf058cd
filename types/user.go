package types

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// MaxPhotoBytes is the largest profile photo accepted, in bytes.
const MaxPhotoBytes = 100_000

// User represents a registered identity.
// It carries the profile, credentials, photo metadata and both sides of
// the follow graph.
type User struct {
	// ID is the opaque identifier assigned at registration.
	ID uuid.UUID `json:"id"`

	// Name is the user's display name.
	Name string `json:"name"`

	// Email is unique across all users and stored lower-cased.
	Email string `json:"email"`

	// About is free-form profile text.
	About string `json:"about"`

	// PasswordHash stores the bcrypt hash (salt included) of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-"`

	// Photo is nil until a photo has been uploaded.
	Photo *Photo `json:"photo,omitempty"`

	// Followers holds the ids of users that follow this user.
	Followers []uuid.UUID `json:"followers"`

	// Following holds the ids of users this user follows.
	Following []uuid.UUID `json:"following"`

	// CreatedAt is the timestamp when the user was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp of the most recent write to the record.
	UpdatedAt time.Time `json:"updated_at"`
}

// Photo describes a stored profile photo. Data is only populated when the
// photo is read for serving, or when the blob lives inline in the record.
type Photo struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`

	// Key names the blob in object storage; empty for inline photos.
	Key  string `json:"-"`
	Data []byte `json:"-"`
}

// IsFollowing reports whether u follows id.
func (u User) IsFollowing(id uuid.UUID) bool {
	return slices.Contains(u.Following, id)
}

// HasFollower reports whether id follows u.
func (u User) HasFollower(id uuid.UUID) bool {
	return slices.Contains(u.Followers, id)
}

// Summary is the short form of a user used in follower listings.
type Summary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Summary returns the short form of u.
func (u User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name}
}
