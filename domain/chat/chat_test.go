package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		raw     string
		want    RoomID
		wantErr bool
	}{
		{raw: "42", want: 42},
		{raw: " 7 ", want: 7},
		{raw: "9223372036854775807", want: RoomID(9223372036854775807)},
		{raw: "", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "4.2", wantErr: true},
		{raw: "9223372036854775808", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseRoomID(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestClampHistoryLimit(t *testing.T) {
	req := require.New(t)
	req.Equal(DefaultHistoryLimit, ClampHistoryLimit(0))
	req.Equal(DefaultHistoryLimit, ClampHistoryLimit(-5))
	req.Equal(1, ClampHistoryLimit(1))
	req.Equal(120, ClampHistoryLimit(120))
	req.Equal(MaxHistoryLimit, ClampHistoryLimit(1000))
}

func TestNormalizeTag(t *testing.T) {
	req := require.New(t)
	req.Equal(TagChat, NormalizeTag(""))
	req.Equal(TagChat, NormalizeTag("  "))
	req.Equal(Tag("dice"), NormalizeTag(" dice "))
}

func TestFrames_JSON(t *testing.T) {
	req := require.New(t)

	// Given a stored message
	msg := Message{
		ID:        12,
		Room:      42,
		Author:    Identity{ID: "u-1", DisplayName: "alice"},
		Content:   "hello",
		Tag:       TagChat,
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.FixedZone("CET", 3600)),
	}

	// When it is framed live then as history
	live, err := json.Marshal(LiveFrame(msg))
	req.NoError(err)
	history, err := json.Marshal(HistoryFrame(msg))
	req.NoError(err)

	// Then only the historical frame carries the flag and timestamps are UTC
	req.JSONEq(`{"id":12,"message":"hello","username":"alice","tag":"chat","ts":"2024-03-01T09:00:00.123456Z"}`, string(live))
	req.JSONEq(`{"history":true,"id":12,"message":"hello","username":"alice","tag":"chat","ts":"2024-03-01T09:00:00.123456Z"}`, string(history))

	failure, err := json.Marshal(ErrorFrame("STORAGE_ERROR", "storage unavailable", true))
	req.NoError(err)
	req.JSONEq(`{"error":{"code":"STORAGE_ERROR","message":"storage unavailable","retryable":true}}`, string(failure))
}

func TestState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("replaying_history", StateReplayingHistory.String())
	req.Equal("closed", StateClosed.String())
	req.Equal("unknown", State(99).String())

	raw, err := json.Marshal(map[string]State{"from": StateReplayingHistory, "to": StateLive})
	req.NoError(err)
	req.JSONEq(`{"from":"replaying_history","to":"live"}`, string(raw))
}
