package main

import (
	"testing"

	"session-chat/domain/chat"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    *chat.InboundFrame
		quit    bool
		wantErr bool
	}{
		{name: "blank line", line: "   "},
		{name: "plain message", line: " hello room ", want: &chat.InboundFrame{Message: "hello room"}},
		{name: "quit", line: "/quit", quit: true},
		{name: "latest history", line: "/history", want: &chat.InboundFrame{History: true}},
		{name: "history before", line: "/history 120", want: &chat.InboundFrame{History: true, Before: 120}},
		{name: "history before with limit", line: "/history 120 10", want: &chat.InboundFrame{History: true, Before: 120, Limit: 10}},
		{name: "limit above the cap", line: "/history 120 500", wantErr: true},
		{name: "not a number", line: "/history last", wantErr: true},
		{name: "too many arguments", line: "/history 1 2 3", wantErr: true},
		{name: "unknown command", line: "/shrug", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			frame, quit, err := parseLine(tt.line)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.quit, quit)
			req.Equal(tt.want, frame)
		})
	}
}

func TestRender(t *testing.T) {
	req := require.New(t)
	color.Enable = false

	// Given a live frame, a historical one and an error
	live := chat.Frame{ID: 1, Username: "alice", Message: "hi", Tag: chat.TagChat, TS: "2024-01-01T10:00:00Z"}
	history := chat.Frame{History: true, ID: 2, Username: "bob", Message: "earlier", Tag: "dice", TS: "2024-01-01T10:00:00Z"}
	failure := chat.ErrorFrame("STORAGE_ERROR", "storage unavailable", true)

	// Then each renders distinctly
	req.Contains(render(live), "alice: hi")
	req.NotContains(render(live), "#")
	req.Contains(render(history), "~ ")
	req.Contains(render(history), "#dice")
	req.Equal("! STORAGE_ERROR: storage unavailable", render(failure))
}
