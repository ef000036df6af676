// Package protocol defines the WebSocket message protocol between chat pages and the service.
package protocol

import "github.com/banminseok/assistantAPI/internal/domain"

// Message types from client to server
const (
	TypeHello       = "hello"
	TypeUserMessage = "user_message"
)

// Message types from server to client
const (
	TypeHelloAck       = "hello_ack"
	TypeHistory        = "history"
	TypeMessageStarted = "message_started"
	TypeDelta          = "delta"
	TypeDone           = "done"
	TypeWarning        = "warning"
	TypeError          = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// HelloMessage binds the connection to a host session.
type HelloMessage struct {
	BaseMessage
	APIKey string `json:"api_key,omitempty"`
}

// HelloAckMessage is sent after a successful hello.
type HelloAckMessage struct {
	BaseMessage
}

// UserMessage carries one user query.
type UserMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// HistoryMessage replays the conversation so far.
type HistoryMessage struct {
	BaseMessage
	Messages []domain.Message `json:"messages"`
}

// MessageStartedMessage opens a new message bubble.
type MessageStartedMessage struct {
	BaseMessage
	Role domain.Role `json:"role"`
}

// DeltaMessage carries the full text of the open message so far.
type DeltaMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// DoneMessage closes the assistant message of a finished run.
type DoneMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// WarningMessage is a non-fatal notice, such as a missing API key.
type WarningMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeRunInProgress   = "run_in_progress"
	ErrorCodeInternalError   = "internal_error"
)
