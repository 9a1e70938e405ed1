package domain

import "encoding/json"

// Client-originated frame types.
const (
	FramePing    = "ping"
	FrameJoin    = "join"
	FrameMessage = "message"
)

// Server-originated frame types.
const (
	FrameSession     = "session"
	FramePong        = "pong"
	FrameJoined      = "joined"
	FrameMessageSent = "message-sent"
	FrameError       = "error"
)

// Error codes carried by error frames.
const (
	CodeInvalidJSON = "invalid_json"
	CodeUnknownType = "unknown_type"
	CodeMissingText = "missing_text"
	CodeTextTooLong = "text_too_long"
	CodeSendFailed  = "send_failed"
)

// Frame is an inbound WebSocket frame.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type OutboundFrame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data"`
}

type MessagePayload struct {
	Text string `json:"text"`
}

type SessionPayload struct {
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
}

type MessageSentPayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type SendMessageRequest struct {
	Text       string `json:"text"`
	SenderType string `json:"senderType"`
}
