package domain

import (
	"encoding/json"
	"time"
)

// ToolInvocationRequest is a tool call requested by the hosted assistant.
// Arguments is the raw JSON text exactly as the assistant produced it.
type ToolInvocationRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult answers exactly one ToolInvocationRequest.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolDefinition is the function-calling declaration sent to the assistant.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is the audit record of one executed tool invocation.
type ToolCall struct {
	ToolCallID  string          `json:"tool_call_id"`
	RunID       string          `json:"run_id"`
	ToolName    string          `json:"tool_name"`
	Status      ToolCallStatus  `json:"status"`
	Args        json.RawMessage `json:"args"`
	Output      string          `json:"output"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
