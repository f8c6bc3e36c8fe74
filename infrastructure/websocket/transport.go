package websocket

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"session-chat/domain/chat"
	"session-chat/errors"

	"github.com/gorilla/websocket"
)

// maxCloseText is what fits in a close frame payload next to the code.
const maxCloseText = 123

// Transport carries JSON text frames over a gorilla websocket connection.
type Transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewTransport configures read limits and keepalive deadlines. A client
// that neither sends nor answers pings for twice pingInterval is dropped.
func NewTransport(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, readLimit int64) *Transport {
	t := &Transport{
		conn:         conn,
		writeTimeout: writeTimeout,
		pongWait:     2 * pingInterval,
		closed:       make(chan struct{}),
	}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(t.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})
	return t
}

func (t *Transport) ReadFrame() (chat.InboundFrame, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return chat.InboundFrame{}, io.EOF
		}
		if goerrors.Is(err, websocket.ErrReadLimit) {
			return chat.InboundFrame{}, fmt.Errorf("%w: frame exceeds read limit", errors.ErrInvalidFrame)
		}
		return chat.InboundFrame{}, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	if messageType != websocket.TextMessage {
		return chat.InboundFrame{}, fmt.Errorf("%w: only text frames are accepted", errors.ErrInvalidFrame)
	}
	var frame chat.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return chat.InboundFrame{}, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}
	return frame, nil
}

func (t *Transport) WriteFrame(frame chat.Frame) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(frame)
}

// Keepalive pings the client every interval until the transport closes.
func (t *Transport) Keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Close sends a close frame matching the reason then drops the socket.
// Only the first call does anything.
func (t *Transport) Close(reason error) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		code, text := closeCode(reason)
		if len(text) > maxCloseText {
			text = text[:maxCloseText]
		}
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(t.writeTimeout))
		err = t.conn.Close()
	})
	return err
}

func closeCode(reason error) (int, string) {
	switch {
	case reason == nil, goerrors.Is(reason, errors.ErrConnectionClosed):
		return websocket.CloseNormalClosure, ""
	case goerrors.Is(reason, context.Canceled), goerrors.Is(reason, context.DeadlineExceeded):
		return websocket.CloseGoingAway, "server is shutting down"
	case goerrors.Is(reason, errors.ErrTransport):
		return websocket.CloseGoingAway, ""
	case goerrors.Is(reason, errors.ErrRateLimited), goerrors.Is(reason, errors.ErrQueueFull):
		return websocket.CloseTryAgainLater, reason.Error()
	case goerrors.Is(reason, errors.ErrProtocol):
		return websocket.CloseProtocolError, reason.Error()
	case goerrors.Is(reason, errors.ErrUnauthenticated):
		return websocket.ClosePolicyViolation, reason.Error()
	default:
		return websocket.CloseInternalServerErr, errors.Code(reason)
	}
}
