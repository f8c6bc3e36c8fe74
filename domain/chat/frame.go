package chat

import "time"

// InboundFrame is the JSON text frame a client sends. A frame with History
// set asks for an older page instead of publishing.
type InboundFrame struct {
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty" validate:"omitempty,max=32,printascii"`
	History bool   `json:"history,omitempty"`
	Before  int64  `json:"before,omitempty" validate:"gte=0"`
	Limit   int    `json:"limit,omitempty" validate:"gte=0,lte=200"`
}

// Frame is the JSON text frame written to clients. Either the message
// fields or Error are set, never both.
type Frame struct {
	History  bool        `json:"history,omitempty"`
	ID       int64       `json:"id,omitempty"`
	Message  string      `json:"message,omitempty"`
	Username string      `json:"username,omitempty"`
	Tag      Tag         `json:"tag,omitempty"`
	TS       string      `json:"ts,omitempty"`
	Error    *FrameError `json:"error,omitempty"`
}

type FrameError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func LiveFrame(m Message) Frame {
	return newMessageFrame(m, false)
}

func HistoryFrame(m Message) Frame {
	return newMessageFrame(m, true)
}

func ErrorFrame(code, message string, retryable bool) Frame {
	return Frame{Error: &FrameError{Code: code, Message: message, Retryable: retryable}}
}

func newMessageFrame(m Message, history bool) Frame {
	return Frame{
		History:  history,
		ID:       m.ID,
		Message:  m.Content,
		Username: m.Author.DisplayName,
		Tag:      m.Tag,
		TS:       m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
