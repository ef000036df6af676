// Package assistant talks to the hosted assistant service: assistants,
// conversation threads, messages and streamed runs.
package assistant

import (
	"context"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// AssistantConfig describes the assistant created for a session.
type AssistantConfig struct {
	Name         string
	Instructions string
	Model        string
	Tools        []domain.ToolDefinition
}

// Client defines the hosted assistant operations the controller needs.
type Client interface {
	// CreateAssistant registers an assistant and returns its id.
	CreateAssistant(ctx context.Context, cfg AssistantConfig) (string, error)

	// CreateConversation opens an empty thread and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// AppendMessage adds a user message to a thread.
	AppendMessage(ctx context.Context, conversationID, text string) error

	// StartRun starts a streamed run of assistantID over the thread.
	StartRun(ctx context.Context, conversationID, assistantID string) (Stream, error)

	// SubmitToolOutputs answers a paused run and returns the continuation stream.
	SubmitToolOutputs(ctx context.Context, conversationID, runID string, results []domain.ToolResult) (Stream, error)

	// ListMessages returns every message of the thread, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// CancelRun stops a run that will not be resumed.
	CancelRun(ctx context.Context, conversationID, runID string) error
}

// Stream is a pull-based view of one run stream. Recv returns io.EOF once
// the stream is exhausted.
type Stream interface {
	Recv() (domain.StreamEvent, error)
	Close() error
}

// Factory builds a Client bound to one API key.
type Factory func(apiKey string) (Client, error)

// DefaultInstructions steer the assistant through the research workflow.
const DefaultInstructions = `You are a research documentation agent.
1. Search Wikipedia for basic information using 'wikipedia_search'.
2. Search DuckDuckGo using 'duckduckgo_search' to find relevant website URLs.
3. Use 'get_web_content' to scrape at least one relevant URL to get detailed information.
4. Compile all the information into a comprehensive answer.`
