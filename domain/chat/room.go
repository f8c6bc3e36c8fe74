// Package chat contains core concepts of the session chat.
// Messages are immutable once the store has assigned them an id.
package chat

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// RoomID identifies a game session. Every session owns exactly one room.
type RoomID int64

// ParseRoomID reads a room id from its URL form. Only strictly positive
// decimal integers are accepted.
func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("room id is empty")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("room id %q is not an integer", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("room id %d must be positive", id)
	}
	return RoomID(id), nil
}

func (r RoomID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// ClampHistoryLimit maps a requested page size onto [1, MaxHistoryLimit],
// zero or negative meaning the default.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
