package domain

import (
	"encoding/json"
	"time"
)

// Session binds a host session to a hosted assistant and conversation.
// It is created once per host session and reused for every message.
type Session struct {
	SessionID      string    `json:"session_id"`
	HostSessionID  string    `json:"host_session_id"`
	ConversationID string    `json:"conversation_id"`
	AssistantID    string    `json:"assistant_id"`
	// KeyHash fingerprints the credential the session was opened with.
	KeyHash        string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message is one turn of a conversation as stored by the hosted service.
type Message struct {
	MessageID string    `json:"message_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one exchange: a user message and the assistant's answer.
type Run struct {
	RunID       string          `json:"run_id"`
	RemoteRunID string          `json:"remote_run_id,omitempty"`
	SessionID   string          `json:"session_id"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// Event represents a trace event for replay.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
