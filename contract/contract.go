//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"session-chat/domain/chat"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker runs until ctx is done. The supervisor restarts it on panic.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName returns the concrete type name of the worker, used as a
// log attribute by the supervisor.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IMessageStore is the durable, append-only log of chat messages.
// History pages are returned oldest first.
type IMessageStore interface {
	Append(ctx context.Context, room chat.RoomID, author chat.Identity, content string, tag chat.Tag) (chat.Message, error)
	History(ctx context.Context, room chat.RoomID, limit int) ([]chat.Message, error)
	HistoryBefore(ctx context.Context, room chat.RoomID, beforeID int64, limit int) ([]chat.Message, error)
	Ping(ctx context.Context) error
}

// Connection is the outbound side of one client session.
// Deliver never blocks: it either queues the frame or fails.
type Connection interface {
	ID() string
	Room() chat.RoomID
	Identity() chat.Identity
	Deliver(frame chat.Frame) error
	Close(reason error)
}

// IRegistry tracks which live connections belong to which room.
type IRegistry interface {
	Join(room chat.RoomID, conn Connection)
	Leave(room chat.RoomID, conn Connection)
	Snapshot(room chat.RoomID) []Connection
	Stats() (rooms int, connections int)
}

type IBroadcaster interface {
	Publish(ctx context.Context, cmd chat.PublishCommand) (chat.Message, error)
	Attach(ctx context.Context, conn Connection, limit int) (int, error)
	Detach(conn Connection)
}

// IAuthGate resolves a bearer credential to the identity behind it.
type IAuthGate interface {
	Authenticate(ctx context.Context, credential string) (chat.Identity, error)
}

// Transport is the duplex frame channel under a gateway session.
// ReadFrame and WriteFrame may run concurrently with each other, Close
// may be called from any goroutine.
type Transport interface {
	ReadFrame() (chat.InboundFrame, error)
	WriteFrame(frame chat.Frame) error
	Close(reason error) error
}

type ICensor interface {
	Censor(content string) (string, []string)
}
