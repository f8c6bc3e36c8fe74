package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"session-chat/contract"
	"session-chat/domain/chat"
	"session-chat/errors"
)

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// RoomBroadcaster persists a message and fans it out to the room as one
// step per room: two publishes in the same room never interleave, rooms
// never wait on each other.
type RoomBroadcaster struct {
	log              *slog.Logger
	store            contract.IMessageStore
	registry         contract.IRegistry
	censor           contract.ICensor
	maxContentLength int

	mu    sync.Mutex
	rooms map[chat.RoomID]*roomLock
}

// NewRoomBroadcaster builds a broadcaster. censor may be nil.
func NewRoomBroadcaster(
	log *slog.Logger,
	store contract.IMessageStore,
	registry contract.IRegistry,
	censor contract.ICensor,
	maxContentLength int,
) *RoomBroadcaster {
	return &RoomBroadcaster{
		log:              log,
		store:            store,
		registry:         registry,
		censor:           censor,
		maxContentLength: maxContentLength,
		rooms:            make(map[chat.RoomID]*roomLock),
	}
}

// Publish stores the message then delivers it to every connection of the
// room at that moment, publisher included. Nothing is delivered when the
// store fails. Connections whose queue refuses the frame are dropped.
func (b *RoomBroadcaster) Publish(ctx context.Context, cmd chat.PublishCommand) (chat.Message, error) {
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return chat.Message{}, errors.ErrEmptyContent
	}
	if b.maxContentLength > 0 && utf8.RuneCountInString(content) > b.maxContentLength {
		return chat.Message{}, fmt.Errorf("%w: %d characters max", errors.ErrContentTooLong, b.maxContentLength)
	}
	if b.censor != nil {
		censored, found := b.censor.Censor(content)
		if len(found) > 0 {
			b.log.Debug("Message censored", "room", cmd.Room, "author", cmd.Author.ID, "words", found)
		}
		content = censored
	}

	unlock := b.lock(cmd.Room)
	defer unlock()

	// the disconnect of the publisher must not abort a started write
	msg, err := b.store.Append(context.WithoutCancel(ctx), cmd.Room, cmd.Author, content, chat.NormalizeTag(string(cmd.Tag)))
	if err != nil {
		b.log.Error("Unable to store message", "room", cmd.Room, "author", cmd.Author.ID, "error", err)
		return chat.Message{}, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}

	frame := chat.LiveFrame(msg)
	for _, conn := range b.registry.Snapshot(cmd.Room) {
		if err := conn.Deliver(frame); err != nil {
			b.drop(cmd.Room, conn, err)
		}
	}
	return msg, nil
}

// Attach replays the latest history of the connection's room into its
// queue and registers it, under the room lock so that no message stored
// meanwhile is lost or seen twice. It returns the number of replayed
// messages.
func (b *RoomBroadcaster) Attach(ctx context.Context, conn contract.Connection, limit int) (int, error) {
	room := conn.Room()
	unlock := b.lock(room)
	defer unlock()

	history, err := b.store.History(ctx, room, chat.ClampHistoryLimit(limit))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	for _, msg := range history {
		if err := conn.Deliver(chat.HistoryFrame(msg)); err != nil {
			return 0, fmt.Errorf("replaying history of room %d: %w", room, err)
		}
	}
	b.registry.Join(room, conn)
	return len(history), nil
}

func (b *RoomBroadcaster) Detach(conn contract.Connection) {
	b.registry.Leave(conn.Room(), conn)
}

func (b *RoomBroadcaster) drop(room chat.RoomID, conn contract.Connection, cause error) {
	b.log.Warn("Dropping connection", "room", room, "connection", conn.ID(), "user", conn.Identity().ID, "error", cause)
	conn.Close(cause)
	b.registry.Leave(room, conn)
}

// lock serializes work on one room. Locks are reference counted so the
// map only holds rooms with work in progress.
func (b *RoomBroadcaster) lock(room chat.RoomID) func() {
	b.mu.Lock()
	l, ok := b.rooms[room]
	if !ok {
		l = &roomLock{}
		b.rooms[room] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.rooms, room)
		}
		b.mu.Unlock()
	}
}
