package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an activity event published after a committed write.
type EventType string

const (
	EventUserRegistered EventType = "user.registered"
	EventUserDeleted    EventType = "user.deleted"
	EventUserFollowed   EventType = "user.followed"
	EventUserUnfollowed EventType = "user.unfollowed"
	EventPostCreated    EventType = "post.created"
)

// Event is the payload published on the activity channel.
type Event struct {
	Type       EventType `json:"type"`
	ActorID    uuid.UUID `json:"actor_id"`
	TargetID   uuid.UUID `json:"target_id,omitzero"`
	PostID     uuid.UUID `json:"post_id,omitzero"`
	OccurredAt time.Time `json:"occurred_at"`
}
