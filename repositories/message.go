package repositories

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"session-chat/domain/chat"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// MessageKeyPrefix starts the key of every stored message.
const MessageKeyPrefix = "msg:"

const (
	messageSequenceKey       = "seq:message"
	messageSequenceBandwidth = 100
	// 20 digits hold any int64 id
	maxMessageIDKey = "99999999999999999999"
)

// MessageRepository is the embedded message log. Keys are
// "msg:{room}:{id:020d}" so a prefix scan walks a room in id order.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu  sync.Mutex
	seq *badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

func messagePrefix(room chat.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%d:", MessageKeyPrefix, room))
}

func messageKey(room chat.RoomID, id int64) []byte {
	return []byte(fmt.Sprintf("%s%d:%020d", MessageKeyPrefix, room, id))
}

func roomHeadKey(room chat.RoomID) []byte {
	return []byte(fmt.Sprintf("room:%d:head", room))
}

// nextID leases ids from a badger sequence. Ids are unique across rooms
// and keep growing across restarts.
func (m *MessageRepository) nextID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		seq, err := m.db.GetSequence([]byte(messageSequenceKey), messageSequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("leasing message sequence: %w", err)
		}
		m.seq = seq
	}
	id, err := m.seq.Next()
	if err != nil {
		return 0, err
	}
	// the sequence starts at zero
	return int64(id) + 1, nil
}

// Append stores one message. The message and the room head holding the
// last timestamp are written in the same transaction, so created_at
// strictly increases within a room.
func (m *MessageRepository) Append(ctx context.Context, room chat.RoomID, author chat.Identity, content string, tag chat.Tag) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	id, err := m.nextID()
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{
		ID:      id,
		Room:    room,
		Author:  author,
		Content: content,
		Tag:     tag,
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		createdAt := time.Now().UTC().Truncate(time.Microsecond)
		item, err := txn.Get(roomHeadKey(room))
		switch {
		case err == nil:
			err = item.Value(func(val []byte) error {
				last := time.UnixMicro(int64(binary.BigEndian.Uint64(val))).UTC()
				if !createdAt.After(last) {
					createdAt = last.Add(time.Microsecond)
				}
				return nil
			})
			if err != nil {
				return err
			}
		case err != badger.ErrKeyNotFound:
			return err
		}
		msg.CreatedAt = createdAt

		head := make([]byte, 8)
		binary.BigEndian.PutUint64(head, uint64(createdAt.UnixMicro()))
		if err := txn.Set(messageKey(room, id), encodeMessage(msg)); err != nil {
			return err
		}
		return txn.Set(roomHeadKey(room), head)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("storing message %d of room %d: %w", id, room, err)
	}
	return msg, nil
}

// History returns up to limit of the latest messages of the room, oldest
// first.
func (m *MessageRepository) History(ctx context.Context, room chat.RoomID, limit int) ([]chat.Message, error) {
	return m.scan(ctx, room, append(messagePrefix(room), maxMessageIDKey...), limit)
}

// HistoryBefore pages further back: only messages with an id lower than
// beforeID are returned.
func (m *MessageRepository) HistoryBefore(ctx context.Context, room chat.RoomID, beforeID int64, limit int) ([]chat.Message, error) {
	if beforeID <= 1 {
		return []chat.Message{}, nil
	}
	return m.scan(ctx, room, messageKey(room, beforeID-1), limit)
}

func (m *MessageRepository) scan(ctx context.Context, room chat.RoomID, seekKey []byte, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = chat.ClampHistoryLimit(limit)
	messages := make([]chat.Message, 0, limit)
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(room)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit), "room", room)
				break
			}
			err := it.Item().Value(func(val []byte) error {
				msg, err := DecodeMessage(val)
				if err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading history of room %d: %w", room, err)
	}
	return lo.Reverse(messages), nil
}

func (m *MessageRepository) Ping(context.Context) error {
	if m.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	return nil
}

// Close hands the unused part of the leased sequence back.
func (m *MessageRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		return nil
	}
	err := m.seq.Release()
	m.seq = nil
	return err
}
