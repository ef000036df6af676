package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/banminseok/assistantAPI/internal/domain"
)

const listPageSize = 100

// OpenAIClient implements Client against the OpenAI Assistants API (v2).
type OpenAIClient struct {
	api        *openai.Client
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for apiKey. Request timeouts bound the
// non-streaming calls; streams are bounded by the caller's context.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		api:        openai.NewClientWithConfig(cfg),
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// CreateAssistant registers the research assistant with its tools.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, cfg AssistantConfig) (string, error) {
	tools := make([]openai.AssistantTool, 0, len(cfg.Tools))
	for _, def := range cfg.Tools {
		tools = append(tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	name := cfg.Name
	instructions := cfg.Instructions
	assistant, err := c.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        cfg.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
	})
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	return assistant.ID, nil
}

// CreateConversation creates an empty thread.
func (c *OpenAIClient) CreateConversation(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// AppendMessage adds a user message to the thread.
func (c *OpenAIClient) AppendMessage(ctx context.Context, conversationID, text string) error {
	_, err := c.api.CreateMessage(ctx, conversationID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListMessages pages through the thread in ascending order.
func (c *OpenAIClient) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	limit := listPageSize
	order := "asc"
	var after *string
	var messages []domain.Message
	for {
		page, err := c.api.ListMessage(ctx, conversationID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Messages {
			messages = append(messages, convertMessage(m))
		}
		if !page.HasMore || page.LastID == nil || len(page.Messages) == 0 {
			break
		}
		after = page.LastID
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func convertMessage(m openai.Message) domain.Message {
	var parts []string
	for _, content := range m.Content {
		if content.Text != nil {
			parts = append(parts, content.Text.Value)
		}
	}
	return domain.Message{
		MessageID: m.ID,
		Role:      domain.Role(m.Role),
		Content:   strings.Join(parts, "\n"),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0),
	}
}

// CancelRun cancels a run.
func (c *OpenAIClient) CancelRun(ctx context.Context, conversationID, runID string) error {
	if _, err := c.api.CancelRun(ctx, conversationID, runID); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

type streamRunRequest struct {
	openai.RunRequest
	Stream bool `json:"stream"`
}

type streamSubmitRequest struct {
	openai.SubmitToolOutputsRequest
	Stream bool `json:"stream"`
}

// StartRun starts a streamed run.
func (c *OpenAIClient) StartRun(ctx context.Context, conversationID, assistantID string) (Stream, error) {
	body := streamRunRequest{
		RunRequest: openai.RunRequest{AssistantID: assistantID},
		Stream:     true,
	}
	return c.openStream(ctx, fmt.Sprintf("/threads/%s/runs", conversationID), body, "")
}

// SubmitToolOutputs resumes a paused run with one output per tool call.
func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, conversationID, runID string, results []domain.ToolResult) (Stream, error) {
	outputs := make([]openai.ToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, openai.ToolOutput{ToolCallID: r.ToolCallID, Output: r.Output})
	}
	body := streamSubmitRequest{
		SubmitToolOutputsRequest: openai.SubmitToolOutputsRequest{ToolOutputs: outputs},
		Stream:                   true,
	}
	return c.openStream(ctx, fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", conversationID, runID), body, runID)
}

func (c *OpenAIClient) openStream(ctx context.Context, path string, payload any, runID string) (Stream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open run stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("assistant API returned status %d: %s", resp.StatusCode, apiErrorMessage(data))
	}
	return &runStream{body: resp.Body, reader: newEventReader(resp.Body), runID: runID}, nil
}

func apiErrorMessage(data []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// runStream maps Assistants API stream events onto domain stream events.
type runStream struct {
	body   io.ReadCloser
	reader *eventReader
	runID  string
	done   bool
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

type streamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *runStream) Recv() (domain.StreamEvent, error) {
	if s.done {
		return domain.StreamEvent{}, io.EOF
	}
	for {
		event, err := s.reader.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
			}
			return domain.StreamEvent{}, err
		}

		switch event.Event {
		case "done":
			s.done = true
			return domain.StreamEvent{}, io.EOF

		case "thread.run.created", "thread.run.queued", "thread.run.in_progress":
			var run openai.Run
			if err := json.Unmarshal([]byte(event.Data), &run); err == nil && run.ID != "" {
				s.runID = run.ID
			}

		case "thread.message.created":
			return domain.StreamEvent{Kind: domain.StreamEventTextCreated, RunID: s.runID}, nil

		case "thread.message.delta":
			var delta messageDelta
			if err := json.Unmarshal([]byte(event.Data), &delta); err != nil {
				return domain.StreamEvent{}, fmt.Errorf("failed to parse message delta: %w", err)
			}
			var text strings.Builder
			for _, part := range delta.Delta.Content {
				if part.Text != nil {
					text.WriteString(part.Text.Value)
				}
			}
			if text.Len() == 0 {
				continue
			}
			return domain.StreamEvent{Kind: domain.StreamEventTextDelta, RunID: s.runID, Text: text.String()}, nil

		case "thread.run.requires_action":
			var run openai.Run
			if err := json.Unmarshal([]byte(event.Data), &run); err != nil {
				return domain.StreamEvent{}, fmt.Errorf("failed to parse run: %w", err)
			}
			s.runID = run.ID
			if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
				return domain.StreamEvent{Kind: domain.StreamEventRunFailed, RunID: s.runID, Reason: "run requires an unsupported action"}, nil
			}
			calls := make([]domain.ToolInvocationRequest, 0, len(run.RequiredAction.SubmitToolOutputs.ToolCalls))
			for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
				calls = append(calls, domain.ToolInvocationRequest{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			return domain.StreamEvent{Kind: domain.StreamEventToolInvocationRequired, RunID: s.runID, Calls: calls}, nil

		case "thread.run.completed":
			return domain.StreamEvent{Kind: domain.StreamEventRunCompleted, RunID: s.runID}, nil

		case "thread.run.failed":
			var run openai.Run
			reason := "run failed"
			if err := json.Unmarshal([]byte(event.Data), &run); err == nil && run.LastError != nil {
				reason = fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
			}
			return domain.StreamEvent{Kind: domain.StreamEventRunFailed, RunID: s.runID, Reason: reason}, nil

		case "thread.run.cancelled", "thread.run.expired", "thread.run.incomplete":
			return domain.StreamEvent{Kind: domain.StreamEventRunFailed, RunID: s.runID, Reason: strings.TrimPrefix(event.Event, "thread.run.")}, nil

		case "error":
			var se streamError
			reason := event.Data
			if err := json.Unmarshal([]byte(event.Data), &se); err == nil && se.Message != "" {
				reason = se.Message
			}
			return domain.StreamEvent{Kind: domain.StreamEventRunFailed, RunID: s.runID, Reason: reason}, nil
		}
		// Step and message lifecycle events carry nothing the controller needs.
	}
}

func (s *runStream) Close() error {
	s.done = true
	return s.body.Close()
}
