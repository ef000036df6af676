// Package domain defines the core domain models for the research assistant.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusStreamingText       RunStatus = "STREAMING_TEXT"
	RunStatusAwaitingToolOutputs RunStatus = "AWAITING_TOOL_OUTPUTS"
	RunStatusCompleted           RunStatus = "COMPLETED"
	RunStatusFailed              RunStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// EventType represents the type of a recorded run event.
type EventType string

const (
	EventTypeRunStarted             EventType = "run_started"
	EventTypeUserInput              EventType = "user_input"
	EventTypeAssistantText          EventType = "assistant_text"
	EventTypeToolInvocationRequired EventType = "tool_invocation_required"
	EventTypePolicyDecision         EventType = "policy_decision"
	EventTypeToolOutputsSubmitted   EventType = "tool_outputs_submitted"
	EventTypeRunCompleted           EventType = "run_completed"
	EventTypeRunFailed              EventType = "run_failed"
)

// StreamEventKind enumerates what a hosted run stream can report.
type StreamEventKind string

const (
	StreamEventTextCreated            StreamEventKind = "text_created"
	StreamEventTextDelta              StreamEventKind = "text_delta"
	StreamEventToolInvocationRequired StreamEventKind = "tool_invocation_required"
	StreamEventRunCompleted           StreamEventKind = "run_completed"
	StreamEventRunFailed              StreamEventKind = "run_failed"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCallStatus represents the outcome of one tool invocation.
type ToolCallStatus string

const (
	ToolCallStatusSucceeded ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
	ToolCallStatusBlocked   ToolCallStatus = "BLOCKED"
)
