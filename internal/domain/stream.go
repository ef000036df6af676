package domain

// StreamEvent is one step reported by a hosted run stream.
type StreamEvent struct {
	Kind   StreamEventKind         `json:"kind"`
	RunID  string                  `json:"run_id,omitempty"`
	Text   string                  `json:"text,omitempty"`
	Calls  []ToolInvocationRequest `json:"calls,omitempty"`
	Reason string                  `json:"reason,omitempty"`
}

// RunStartedPayload is the payload for run_started events.
type RunStartedPayload struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	AssistantID    string `json:"assistant_id"`
}

// UserInputPayload is the payload for user_input events.
type UserInputPayload struct {
	Content string `json:"content"`
}

// AssistantTextPayload is the payload for assistant_text events.
type AssistantTextPayload struct {
	Text string `json:"text"`
}

// ToolInvocationPayload is the payload for tool_invocation_required events.
type ToolInvocationPayload struct {
	RemoteRunID string                  `json:"remote_run_id"`
	Calls       []ToolInvocationRequest `json:"calls"`
}

// PolicyDecisionPayload is the payload for policy_decision events.
type PolicyDecisionPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// ToolOutputsPayload is the payload for tool_outputs_submitted events.
type ToolOutputsPayload struct {
	Results []ToolResult `json:"results"`
}

// RunFailedPayload is the payload for run_failed events.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
