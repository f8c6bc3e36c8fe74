package services

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"log/slog"

	"session-chat/contract"
	"session-chat/domain/chat"
	"session-chat/errors"
	"session-chat/sink"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

type GatewayConfig struct {
	HistoryLimit      int
	BufferSize        int
	InboundRatePerSec int
}

// ConnectRequest is what the transport layer knows about a new client
// before anything is checked.
type ConnectRequest struct {
	RoomID     string
	Credential string
	RemoteAddr string
}

// SessionGateway drives one client connection through its lifecycle:
// connecting, authenticating, replaying history, live, closed.
type SessionGateway struct {
	log         *slog.Logger
	gate        contract.IAuthGate
	broadcaster contract.IBroadcaster
	store       contract.IMessageStore
	validate    *validator.Validate
	cfg         GatewayConfig
}

func NewSessionGateway(
	log *slog.Logger,
	gate contract.IAuthGate,
	broadcaster contract.IBroadcaster,
	store contract.IMessageStore,
	cfg GatewayConfig,
) *SessionGateway {
	return &SessionGateway{
		log:         log,
		gate:        gate,
		broadcaster: broadcaster,
		store:       store,
		validate:    validator.New(),
		cfg:         cfg,
	}
}

type gatewaySession struct {
	log   *slog.Logger
	state chat.State
}

func (s *gatewaySession) enter(next chat.State) {
	s.log.Debug("Gateway state", "from", s.state.String(), "to", next.String())
	s.state = next
}

// Serve blocks until the connection is closed and returns why, nil for a
// normal closure by the client.
func (g *SessionGateway) Serve(ctx context.Context, req ConnectRequest, transport contract.Transport) error {
	session := &gatewaySession{
		log:   g.log.With("remote", req.RemoteAddr, "room", req.RoomID),
		state: chat.StateConnecting,
	}

	room, err := chat.ParseRoomID(req.RoomID)
	if err != nil {
		return g.reject(session, transport, fmt.Errorf("%w: %v", errors.ErrInvalidRoom, err))
	}

	session.enter(chat.StateAuthenticating)
	identity, err := g.gate.Authenticate(ctx, req.Credential)
	if err != nil {
		return g.reject(session, transport, err)
	}
	session.log = session.log.With("user", identity.ID)

	session.enter(chat.StateReplayingHistory)
	// room for a full history page on top of the live buffer
	conn := sink.NewConnection(room, identity, chat.MaxHistoryLimit+g.cfg.BufferSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(conn, transport)
	}()

	replayed, err := g.broadcaster.Attach(ctx, conn, g.cfg.HistoryLimit)
	if err != nil {
		session.log.Warn("Unable to replay history", "error", err)
		conn.Close(err)
		<-writerDone
		session.enter(chat.StateClosed)
		return err
	}
	session.log.Info("Connection joined room", "replayed", replayed)

	session.enter(chat.StateLive)
	stop := context.AfterFunc(ctx, func() { conn.Close(ctx.Err()) })
	defer stop()

	readErr := g.readLoop(ctx, conn, transport)

	session.enter(chat.StateClosed)
	conn.Close(readErr)
	g.broadcaster.Detach(conn)
	<-writerDone

	reason := conn.Reason()
	if reason != nil && !goerrors.Is(reason, errors.ErrTransport) {
		session.log.Info("Connection closed", "reason", reason)
	} else {
		session.log.Info("Connection closed")
	}
	return reason
}

// reject answers a connection that never went live with a single error
// frame. Nothing else writes to the transport at that point.
func (g *SessionGateway) reject(session *gatewaySession, transport contract.Transport, cause error) error {
	session.log.Info("Connection rejected", "state", session.state.String(), "error", cause)
	session.enter(chat.StateClosed)
	_ = transport.WriteFrame(errorFrame(cause))
	_ = transport.Close(cause)
	return cause
}

// writeLoop is the only writer of the transport once the connection
// exists. When the connection closes it sends a last error frame if the
// client can do something with it, then closes the transport, which also
// unblocks the reader.
func (g *SessionGateway) writeLoop(conn *sink.Connection, transport contract.Transport) {
	for {
		select {
		case frame := <-conn.Outbound():
			if err := transport.WriteFrame(frame); err != nil {
				conn.Close(fmt.Errorf("%w: %v", errors.ErrTransport, err))
			}
		case <-conn.Done():
			reason := conn.Reason()
			if notifiable(reason) {
				_ = transport.WriteFrame(errorFrame(reason))
			}
			_ = transport.Close(reason)
			return
		}
	}
}

func (g *SessionGateway) readLoop(ctx context.Context, conn *sink.Connection, transport contract.Transport) error {
	limiter := newLimiter(g.cfg.InboundRatePerSec)
	for {
		frame, err := transport.ReadFrame()
		select {
		case <-conn.Done():
			return nil
		default:
		}
		switch {
		case goerrors.Is(err, io.EOF):
			return nil
		case goerrors.Is(err, errors.ErrProtocol):
			return err
		case err != nil:
			return fmt.Errorf("%w: %v", errors.ErrTransport, err)
		}

		if !limiter.Allow() {
			return errors.ErrRateLimited
		}
		if err := g.validate.Struct(frame); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
		}

		if frame.History {
			err = g.sendPage(ctx, conn, frame)
		} else {
			_, err = g.broadcaster.Publish(ctx, chat.PublishCommand{
				Room:    conn.Room(),
				Author:  conn.Identity(),
				Content: frame.Message,
				Tag:     chat.NormalizeTag(frame.Tag),
			})
		}
		if err == nil {
			continue
		}
		if errors.Fatal(err) {
			return err
		}
		// only the sender hears about a rejected or unstored message
		if err := conn.Deliver(errorFrame(err)); err != nil {
			return err
		}
	}
}

// sendPage answers an explicit history request, older than Before when set.
// A page never takes the slots kept for live frames: it is shortened to
// the newest messages that fit, the client pages on from the oldest one
// it got. With no free slot at all the request is deferred.
func (g *SessionGateway) sendPage(ctx context.Context, conn *sink.Connection, frame chat.InboundFrame) error {
	limit := chat.ClampHistoryLimit(frame.Limit)
	free := conn.Capacity() - conn.Pending() - g.cfg.BufferSize
	if free <= 0 {
		return errors.ErrHistoryBusy
	}
	limit = min(limit, free)

	var (
		page []chat.Message
		err  error
	)
	if frame.Before > 0 {
		page, err = g.store.HistoryBefore(ctx, conn.Room(), frame.Before, limit)
	} else {
		page, err = g.store.History(ctx, conn.Room(), limit)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	for _, msg := range page {
		if err := conn.Deliver(chat.HistoryFrame(msg)); err != nil {
			return err
		}
	}
	return nil
}

func newLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

func errorFrame(err error) chat.Frame {
	return chat.ErrorFrame(errors.Code(err), err.Error(), errors.Retryable(err))
}

// notifiable tells whether a closing reason is worth a last frame: not
// when the client left, the socket broke or the server is shutting down.
func notifiable(reason error) bool {
	switch {
	case reason == nil,
		goerrors.Is(reason, errors.ErrTransport),
		goerrors.Is(reason, errors.ErrConnectionClosed),
		goerrors.Is(reason, context.Canceled),
		goerrors.Is(reason, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
