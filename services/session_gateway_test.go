package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"session-chat/domain/chat"
	"session-chat/errors"
	"session-chat/mocks"
	"session-chat/repositories"
	"session-chat/runtime"
	"session-chat/sink"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type inbound struct {
	frame chat.InboundFrame
	err   error
}

// pipeTransport plays the client side through channels.
type pipeTransport struct {
	in     chan inbound
	out    chan chat.Frame
	closed chan struct{}
	once   sync.Once
	reason error
	// delay slows every write down like a real socket
	delay time.Duration
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan inbound, 16),
		out:    make(chan chat.Frame, 1024),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadFrame() (chat.InboundFrame, error) {
	select {
	case msg := <-p.in:
		return msg.frame, msg.err
	case <-p.closed:
		return chat.InboundFrame{}, fmt.Errorf("use of closed connection")
	}
}

func (p *pipeTransport) WriteFrame(frame chat.Frame) error {
	select {
	case <-p.closed:
		return fmt.Errorf("use of closed connection")
	default:
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.out <- frame
	return nil
}

func (p *pipeTransport) Close(reason error) error {
	p.once.Do(func() {
		p.reason = reason
		close(p.closed)
	})
	return nil
}

func (p *pipeTransport) send(frame chat.InboundFrame) { p.in <- inbound{frame: frame} }

func (p *pipeTransport) hangUp() { p.in <- inbound{err: io.EOF} }

func (p *pipeTransport) next(t *testing.T) chat.Frame {
	t.Helper()
	select {
	case f := <-p.out:
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame received")
		return chat.Frame{}
	}
}

type fixture struct {
	gateway  *SessionGateway
	registry *runtime.Registry
	gate     *mocks.MockIAuthGate
	store    *repositories.MessageRepository
}

var alice = chat.Identity{ID: "u-alice", DisplayName: "alice"}

func newFixture(t *testing.T, cfg GatewayConfig) fixture {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repositories.NewMessageRepository(db, log)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewRoomBroadcaster(log, store, registry, nil, 20)
	gate := mocks.NewMockIAuthGate(ctrl)
	return fixture{
		gateway:  NewSessionGateway(log, gate, broadcaster, store, cfg),
		registry: registry,
		gate:     gate,
		store:    store,
	}
}

func serve(f fixture, req ConnectRequest, transport *pipeTransport) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.gateway.Serve(context.Background(), req, transport) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "gateway did not return")
		return nil
	}
}

var defaultConfig = GatewayConfig{HistoryLimit: 50, BufferSize: 16, InboundRatePerSec: 100}

func TestGateway_Rejects_Invalid_Room_Before_Auth(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()

	// The gate is never asked
	err := wait(t, serve(f, ConnectRequest{RoomID: "abc", Credential: "token"}, transport))

	req.ErrorIs(err, errors.ErrInvalidRoom)
	frame := transport.next(t)
	req.NotNil(frame.Error)
	req.Equal(errors.CodeProtocol, frame.Error.Code)
	req.False(frame.Error.Retryable)
	req.ErrorIs(transport.reason, errors.ErrProtocol)
}

func TestGateway_Rejects_Unauthenticated(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()

	f.gate.EXPECT().Authenticate(gomock.Any(), "bad").
		Return(chat.Identity{}, fmt.Errorf("%w: invalid or expired token", errors.ErrUnauthenticated))

	err := wait(t, serve(f, ConnectRequest{RoomID: "42", Credential: "bad"}, transport))

	req.ErrorIs(err, errors.ErrUnauthenticated)
	frame := transport.next(t)
	req.Equal(errors.CodeUnauthenticated, frame.Error.Code)
	rooms, connections := f.registry.Stats()
	req.Zero(rooms)
	req.Zero(connections)
}

func TestGateway_Replays_History_Then_Goes_Live(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()
	gm := chat.Identity{ID: "u-gm", DisplayName: "gm"}

	// Given room 42 holds 60 messages
	for i := 1; i <= 60; i++ {
		_, err := f.store.Append(ctx, chat.RoomID(42), gm, fmt.Sprintf("m%d", i), chat.TagChat)
		req.NoError(err)
	}
	f.gate.EXPECT().Authenticate(gomock.Any(), "good").Return(alice, nil)

	// When alice connects
	done := serve(f, ConnectRequest{RoomID: "42", Credential: "good"}, transport)

	// Then the 50 latest messages are replayed oldest first
	for i := 11; i <= 60; i++ {
		frame := transport.next(t)
		req.True(frame.History)
		req.Equal(fmt.Sprintf("m%d", i), frame.Message)
		req.Equal("gm", frame.Username)
		req.Equal(chat.TagChat, frame.Tag)
		req.NotEmpty(frame.TS)
	}

	// And what she publishes comes back live
	transport.send(chat.InboundFrame{Message: "hello table", Tag: "ooc"})
	frame := transport.next(t)
	req.False(frame.History)
	req.Equal("hello table", frame.Message)
	req.Equal("alice", frame.Username)
	req.Equal(chat.Tag("ooc"), frame.Tag)

	// When she leaves
	transport.hangUp()

	// Then the session ends normally and the room is empty
	req.NoError(wait(t, done))
	rooms, connections := f.registry.Stats()
	req.Zero(rooms)
	req.Zero(connections)
}

func TestGateway_Invalid_Content_Keeps_Connection_Live(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "1", Credential: "good"}, transport)

	transport.send(chat.InboundFrame{Message: "   "})
	frame := transport.next(t)
	req.Equal(errors.CodeInvalidArgument, frame.Error.Code)

	transport.send(chat.InboundFrame{Message: "this message is far too long for the limit"})
	frame = transport.next(t)
	req.Equal(errors.CodeInvalidArgument, frame.Error.Code)

	transport.send(chat.InboundFrame{Message: "fine"})
	frame = transport.next(t)
	req.Equal("fine", frame.Message)

	transport.hangUp()
	req.NoError(wait(t, done))
}

func TestGateway_Malformed_Frame_Closes_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "1", Credential: "good"}, transport)

	// A transport decoding failure
	transport.in <- inbound{err: fmt.Errorf("%w: not json", errors.ErrInvalidFrame)}

	err := wait(t, done)
	req.ErrorIs(err, errors.ErrInvalidFrame)
	frame := transport.next(t)
	req.Equal(errors.CodeProtocol, frame.Error.Code)
	req.Empty(f.registry.Snapshot(chat.RoomID(1)))
}

func TestGateway_Frame_Failing_Validation_Closes_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "1", Credential: "good"}, transport)
	transport.send(chat.InboundFrame{History: true, Limit: 500})

	req.ErrorIs(wait(t, done), errors.ErrInvalidFrame)
}

func TestGateway_Rate_Limit_Closes_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, GatewayConfig{HistoryLimit: 50, BufferSize: 16, InboundRatePerSec: 1})
	transport := newPipeTransport()
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "1", Credential: "good"}, transport)
	for i := 0; i < 3; i++ {
		transport.send(chat.InboundFrame{Message: fmt.Sprint(i)})
	}

	req.ErrorIs(wait(t, done), errors.ErrRateLimited)
	var last chat.Frame
	for len(transport.out) > 0 {
		last = <-transport.out
	}
	req.NotNil(last.Error)
	req.Equal(errors.CodeResourceExhausted, last.Error.Code)
}

func TestGateway_History_Request_Pages_Backwards(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, GatewayConfig{HistoryLimit: 2, BufferSize: 16, InboundRatePerSec: 100})
	transport := newPipeTransport()
	var stored []chat.Message
	for i := 1; i <= 5; i++ {
		msg, err := f.store.Append(ctx, chat.RoomID(3), alice, fmt.Sprintf("m%d", i), chat.TagChat)
		req.NoError(err)
		stored = append(stored, msg)
	}
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "3", Credential: "good"}, transport)
	req.Equal("m4", transport.next(t).Message)
	req.Equal("m5", transport.next(t).Message)

	// When asking for the page before the oldest replayed message
	transport.send(chat.InboundFrame{History: true, Before: stored[3].ID, Limit: 2})

	// Then the two previous ones arrive as history
	first := transport.next(t)
	second := transport.next(t)
	req.True(first.History)
	req.Equal("m2", first.Message)
	req.Equal("m3", second.Message)

	transport.hangUp()
	req.NoError(wait(t, done))
}

func TestGateway_Storage_Failure_Is_Reported_To_Publisher_Only(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	gate := mocks.NewMockIAuthGate(ctrl)
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewRoomBroadcaster(log, store, registry, nil, 2000)
	gateway := NewSessionGateway(log, gate, broadcaster, store, defaultConfig)
	bob := chat.Identity{ID: "u-bob", DisplayName: "bob"}

	store.EXPECT().History(gomock.Any(), chat.RoomID(7), 50).Return(nil, nil).Times(2)
	gate.EXPECT().Authenticate(gomock.Any(), "alice").Return(alice, nil)
	gate.EXPECT().Authenticate(gomock.Any(), "bob").Return(bob, nil)
	store.EXPECT().Append(gomock.Any(), chat.RoomID(7), alice, "hello", chat.TagChat).Return(chat.Message{}, fmt.Errorf("disk full"))

	aliceTransport := newPipeTransport()
	bobTransport := newPipeTransport()
	aliceDone := make(chan error, 1)
	bobDone := make(chan error, 1)
	go func() {
		aliceDone <- gateway.Serve(context.Background(), ConnectRequest{RoomID: "7", Credential: "alice"}, aliceTransport)
	}()
	go func() {
		bobDone <- gateway.Serve(context.Background(), ConnectRequest{RoomID: "7", Credential: "bob"}, bobTransport)
	}()
	req.Eventually(func() bool { return len(registry.Snapshot(chat.RoomID(7))) == 2 }, time.Second, 5*time.Millisecond)

	aliceTransport.send(chat.InboundFrame{Message: "hello"})

	frame := aliceTransport.next(t)
	req.Equal(errors.CodeStorage, frame.Error.Code)
	req.True(frame.Error.Retryable)

	aliceTransport.hangUp()
	bobTransport.hangUp()
	req.NoError(wait(t, aliceDone))
	req.NoError(wait(t, bobDone))
	req.Empty(bobTransport.out)
}

func TestGateway_Context_Cancel_Closes_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, defaultConfig)
	transport := newPipeTransport()
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.gateway.Serve(ctx, ConnectRequest{RoomID: "1", Credential: "good"}, transport) }()
	req.Eventually(func() bool { return len(f.registry.Snapshot(chat.RoomID(1))) == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	req.ErrorIs(wait(t, done), context.Canceled)
	req.Empty(f.registry.Snapshot(chat.RoomID(1)))
}

func TestGateway_Full_History_Page_Behind_A_Slow_Writer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, GatewayConfig{HistoryLimit: 50, BufferSize: 64, InboundRatePerSec: 100})
	transport := newPipeTransport()
	transport.delay = time.Millisecond
	gm := chat.Identity{ID: "u-gm", DisplayName: "gm"}

	// Given room 9 holds 300 messages
	var stored []chat.Message
	for i := 1; i <= 300; i++ {
		msg, err := f.store.Append(ctx, chat.RoomID(9), gm, fmt.Sprintf("m%d", i), chat.TagChat)
		req.NoError(err)
		stored = append(stored, msg)
	}
	f.gate.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(alice, nil)

	done := serve(f, ConnectRequest{RoomID: "9", Credential: "good"}, transport)
	for i := 251; i <= 300; i++ {
		req.Equal(fmt.Sprintf("m%d", i), transport.next(t).Message)
	}

	// When alice asks for the largest page allowed
	transport.send(chat.InboundFrame{History: true, Before: stored[250].ID, Limit: chat.MaxHistoryLimit})

	// Then all 200 previous messages arrive and she stays live
	for i := 51; i <= 250; i++ {
		frame := transport.next(t)
		req.Nil(frame.Error)
		req.True(frame.History)
		req.Equal(fmt.Sprintf("m%d", i), frame.Message)
	}
	transport.send(chat.InboundFrame{Message: "still here"})
	req.Equal("still here", transport.next(t).Message)

	transport.hangUp()
	req.NoError(wait(t, done))
}

func TestGateway_History_Page_Keeps_Live_Slots(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, GatewayConfig{HistoryLimit: 50, BufferSize: 4, InboundRatePerSec: 100})
	room := chat.RoomID(11)
	for i := 1; i <= 10; i++ {
		_, err := f.store.Append(ctx, room, alice, fmt.Sprintf("m%d", i), chat.TagChat)
		req.NoError(err)
	}

	// Given a queue of 10 slots, 4 of them kept for live frames, with 3 frames pending
	conn := sink.NewConnection(room, alice, 10)
	for i := 0; i < 3; i++ {
		req.NoError(conn.Deliver(chat.Frame{Message: "pending"}))
	}

	// When a page of 5 is requested
	err := f.gateway.sendPage(ctx, conn, chat.InboundFrame{History: true, Limit: 5})

	// Then only the 3 newest messages that fit are queued
	req.NoError(err)
	req.Equal(6, conn.Pending())

	// And with no free slot left the next request is deferred, not fatal
	err = f.gateway.sendPage(ctx, conn, chat.InboundFrame{History: true, Limit: 5})
	req.ErrorIs(err, errors.ErrHistoryBusy)
	req.False(errors.Fatal(err))
	req.True(errors.Retryable(err))

	var messages []string
	for conn.Pending() > 0 {
		messages = append(messages, (<-conn.Outbound()).Message)
	}
	req.Equal([]string{"pending", "pending", "pending", "m8", "m9", "m10"}, messages)
}
