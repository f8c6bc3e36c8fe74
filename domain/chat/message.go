package chat

import (
	"strings"
	"time"
)

// Tag classifies a message, e.g. plain chat or a dice roll.
type Tag string

const TagChat Tag = "chat"

// NormalizeTag falls back to TagChat when no tag was sent.
func NormalizeTag(raw string) Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TagChat
	}
	return Tag(raw)
}

// Identity is the authenticated author behind a connection.
type Identity struct {
	ID          string
	DisplayName string
}

// Message is a persisted chat line. ID and CreatedAt are assigned by the
// store and both increase strictly within a room.
type Message struct {
	ID        int64
	Room      RoomID
	Author    Identity
	Content   string
	Tag       Tag
	CreatedAt time.Time
}

// PublishCommand is what a live connection asks the broadcaster to do.
type PublishCommand struct {
	Room    RoomID
	Author  Identity
	Content string
	Tag     Tag
}
