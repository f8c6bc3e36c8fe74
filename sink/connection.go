package sink

import (
	"sync"

	"session-chat/domain/chat"
	"session-chat/errors"

	"github.com/google/uuid"
)

// Connection is the outbound queue of one client session.
// Producers call Deliver, a single writer drains Outbound until Done.
type Connection struct {
	id       string
	room     chat.RoomID
	identity chat.Identity
	queue    chan chat.Frame
	done     chan struct{}
	once     sync.Once

	// closed guards the send against a concurrent Close
	mu     sync.RWMutex
	closed bool
	reason error
}

func NewConnection(room chat.RoomID, identity chat.Identity, capacity int) *Connection {
	if capacity < 1 {
		capacity = 1
	}
	return &Connection{
		id:       uuid.NewString(),
		room:     room,
		identity: identity,
		queue:    make(chan chat.Frame, capacity),
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string              { return c.id }
func (c *Connection) Room() chat.RoomID       { return c.room }
func (c *Connection) Identity() chat.Identity { return c.identity }

// Deliver enqueues the frame without blocking.
func (c *Connection) Deliver(frame chat.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return errors.ErrQueueFull
	}
}

// Close is idempotent, the first reason wins. A nil reason means a
// normal closure.
func (c *Connection) Close(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Connection) Outbound() <-chan chat.Frame { return c.queue }

func (c *Connection) Done() <-chan struct{} { return c.done }

// Reason returns why the connection was closed, nil while open or after
// a normal closure.
func (c *Connection) Reason() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

func (c *Connection) Pending() int { return len(c.queue) }

func (c *Connection) Capacity() int { return cap(c.queue) }
