package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"session-chat/domain/chat"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS messages (
	id          BIGSERIAL PRIMARY KEY,
	session_id  BIGINT      NOT NULL,
	user_id     TEXT        NOT NULL,
	username    TEXT        NOT NULL,
	content     TEXT        NOT NULL,
	msg_type    TEXT        NOT NULL DEFAULT 'chat',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_session_id_id_idx ON messages (session_id, id);
`

// created_at is bumped past the latest message of the session so it stays
// strictly increasing even when the clock does not move.
const insertMessage = `
INSERT INTO messages (session_id, user_id, username, content, msg_type, created_at)
SELECT $1, $2, $3, $4, $5,
	GREATEST(clock_timestamp(), COALESCE(MAX(created_at) + interval '1 microsecond', clock_timestamp()))
FROM messages WHERE session_id = $1
RETURNING id, created_at`

const selectHistory = `
SELECT id, session_id, user_id, username, content, msg_type, created_at FROM (
	SELECT id, session_id, user_id, username, content, msg_type, created_at
	FROM messages
	WHERE session_id = $1 AND ($3::BIGINT = 0 OR id < $3)
	ORDER BY id DESC
	LIMIT $2
) recent ORDER BY id ASC`

// PostgresMessageStore keeps the message log in the sessions database.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresMessageStore(pool *pgxpool.Pool, log *slog.Logger) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool, log: log}
}

// ConnectPostgres creates a pool and checks the database answers.
func ConnectPostgres(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresMessageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createMessagesTable); err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) Append(ctx context.Context, room chat.RoomID, author chat.Identity, content string, tag chat.Tag) (chat.Message, error) {
	msg := chat.Message{
		Room:    room,
		Author:  author,
		Content: content,
		Tag:     tag,
	}
	row := s.pool.QueryRow(ctx, insertMessage, int64(room), author.ID, author.DisplayName, content, string(tag))
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return chat.Message{}, fmt.Errorf("inserting message of room %d: %w", room, err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *PostgresMessageStore) History(ctx context.Context, room chat.RoomID, limit int) ([]chat.Message, error) {
	return s.query(ctx, room, 0, limit)
}

func (s *PostgresMessageStore) HistoryBefore(ctx context.Context, room chat.RoomID, beforeID int64, limit int) ([]chat.Message, error) {
	if beforeID <= 1 {
		return []chat.Message{}, nil
	}
	return s.query(ctx, room, beforeID, limit)
}

func (s *PostgresMessageStore) query(ctx context.Context, room chat.RoomID, beforeID int64, limit int) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, selectHistory, int64(room), chat.ClampHistoryLimit(limit), beforeID)
	if err != nil {
		return nil, fmt.Errorf("reading history of room %d: %w", room, err)
	}
	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("reading history of room %d: %w", room, err)
	}
	return lo.Ternary(messages == nil, []chat.Message{}, messages), nil
}

func scanMessage(row pgx.CollectableRow) (chat.Message, error) {
	var (
		msg       chat.Message
		room      int64
		tag       string
		createdAt time.Time
	)
	err := row.Scan(&msg.ID, &room, &msg.Author.ID, &msg.Author.DisplayName, &msg.Content, &tag, &createdAt)
	msg.Room = chat.RoomID(room)
	msg.Tag = chat.Tag(tag)
	msg.CreatedAt = createdAt.UTC()
	return msg, err
}

func (s *PostgresMessageStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
