package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"session-chat/domain/chat"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerURL string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:8000"`
	RoomID    int64  `envconfig:"CHAT_ROOM_ID" default:"1"`
	Token     string `envconfig:"CHAT_TOKEN" required:"true"`
	// CHAT_COLOURS enables colorized output
	Colours bool `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	color.Enable = config.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := fmt.Sprintf("%s/chat/%d", strings.TrimSuffix(config.ServerURL, "/"), config.RoomID)
	header := http.Header{"Authorization": []string{"Bearer " + config.Token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	color.Info.Printf(">>> Connected to room %d (/history [before] [limit], /quit, Ctrl+C to quit)\n", config.RoomID)

	readErr := make(chan error, 1)
	go func() {
		readErr <- receive(conn)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			leave(conn)
			return exitOK, nil
		case err := <-readErr:
			if err != nil {
				return exitRuntime, err
			}
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				leave(conn)
				return exitOK, nil
			}
			frame, quit, err := parseLine(line)
			switch {
			case quit:
				leave(conn)
				return exitOK, nil
			case err != nil:
				color.Warn.Println(err)
				continue
			case frame == nil:
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				return exitRuntime, fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

// receive prints every frame until the server closes the connection.
func receive(conn *websocket.Conn) error {
	for {
		var frame chat.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		fmt.Println(render(frame))
	}
}

func render(frame chat.Frame) string {
	if frame.Error != nil {
		return color.Error.Sprintf("! %s: %s", frame.Error.Code, frame.Error.Message)
	}
	at := frame.TS
	if ts, err := time.Parse(time.RFC3339Nano, frame.TS); err == nil {
		at = ts.Local().Format(time.TimeOnly)
	}
	line := fmt.Sprintf("[%s] %s: %s", at, color.Cyan.Sprint(frame.Username), frame.Message)
	if frame.Tag != "" && frame.Tag != chat.TagChat {
		line += color.Magenta.Sprintf(" #%s", frame.Tag)
	}
	if frame.History {
		return color.Gray.Sprint("~ ") + line
	}
	return line
}

// parseLine turns one line of input into the frame to send. A nil frame
// with no error means nothing to send.
func parseLine(line string) (*chat.InboundFrame, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return &chat.InboundFrame{Message: line}, false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return nil, true, nil
	case "/history":
		frame := &chat.InboundFrame{History: true}
		args := fields[1:]
		if len(args) > 2 {
			return nil, false, fmt.Errorf("usage: /history [before] [limit]")
		}
		if len(args) > 0 {
			before, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || before < 0 {
				return nil, false, fmt.Errorf("before must be a message id, got %q", args[0])
			}
			frame.Before = before
		}
		if len(args) > 1 {
			limit, err := strconv.Atoi(args[1])
			if err != nil || limit < 0 || limit > chat.MaxHistoryLimit {
				return nil, false, fmt.Errorf("limit must be within [0, %d], got %q", chat.MaxHistoryLimit, args[1])
			}
			frame.Limit = limit
		}
		return frame, false, nil
	default:
		return nil, false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func leave(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
