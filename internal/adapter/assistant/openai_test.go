package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banminseok/assistantAPI/internal/domain"
)

func readAll(t *testing.T, input string) []SSEEvent {
	t.Helper()
	r := newEventReader(strings.NewReader(input))
	var events []SSEEvent
	for {
		event, err := r.next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
	}
}

func TestEventReaderMultilineData(t *testing.T) {
	events := readAll(t, "event: delta\n"+
		"data: first line\n"+
		"data: second line\n\n"+
		": keep-alive comment\n\n"+
		"event: done\n"+
		"data: [DONE]")

	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].Event)
	assert.Equal(t, "first line\nsecond line", events[0].Data)
	assert.Equal(t, "done", events[1].Event)
	assert.Equal(t, "[DONE]", events[1].Data)
}

func TestEventReaderKeepsValueWhitespace(t *testing.T) {
	events := readAll(t, "event:delta\n"+
		"data:  indented \n"+
		"data:\n"+
		"data:tail\r\n\r\n"+
		"data: \n\n")

	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].Event)
	assert.Equal(t, " indented \n\ntail", events[0].Data)
	assert.Equal(t, "", events[1].Event)
	assert.Equal(t, "", events[1].Data)
}

func TestEventReaderEmptyInput(t *testing.T) {
	_, err := newEventReader(strings.NewReader("\n\n: ping\n\n")).next()
	assert.ErrorIs(t, err, io.EOF)
}

func writeEvent(w io.Writer, event string, data any) {
	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	default:
		b, _ := json.Marshal(v)
		payload = string(b)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

func collect(t *testing.T, s Stream) []domain.StreamEvent {
	t.Helper()
	defer s.Close()
	var out []domain.StreamEvent
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestStartRunStreamsToolRequest(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_1/runs", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "thread.run.created", map[string]any{"id": "run_1", "object": "thread.run", "status": "queued"})
		writeEvent(w, "thread.run.step.created", map[string]any{"id": "step_1"})
		writeEvent(w, "thread.run.requires_action", map[string]any{
			"id":     "run_1",
			"object": "thread.run",
			"status": "requires_action",
			"required_action": map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{
					"tool_calls": []map[string]any{
						{"id": "call_a", "type": "function", "function": map[string]any{"name": "wikipedia_search", "arguments": `{"query":"capital of France"}`}},
						{"id": "call_b", "type": "function", "function": map[string]any{"name": "duckduckgo_search", "arguments": `{"query":"Paris"}`}},
					},
				},
			},
		})
		writeEvent(w, "done", "[DONE]")
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, time.Second)
	stream, err := client.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamEventToolInvocationRequired, events[0].Kind)
	assert.Equal(t, "run_1", events[0].RunID)
	require.Len(t, events[0].Calls, 2)
	assert.Equal(t, domain.ToolInvocationRequest{ID: "call_a", Name: "wikipedia_search", Arguments: `{"query":"capital of France"}`}, events[0].Calls[0])

	assert.Equal(t, "asst_1", gotBody["assistant_id"])
	assert.Equal(t, true, gotBody["stream"])
}

func TestSubmitToolOutputsStreamsText(t *testing.T) {
	var gotBody struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
		Stream bool `json:"stream"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_1/runs/run_1/submit_tool_outputs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "thread.message.created", map[string]any{"id": "msg_1", "role": "assistant"})
		writeEvent(w, "thread.message.delta", map[string]any{"id": "msg_1", "delta": map[string]any{"content": []map[string]any{{"index": 0, "type": "text", "text": map[string]any{"value": "The capital "}}}}})
		writeEvent(w, "thread.message.delta", map[string]any{"id": "msg_1", "delta": map[string]any{"content": []map[string]any{{"index": 0, "type": "text", "text": map[string]any{"value": "is Paris."}}}}})
		writeEvent(w, "thread.message.completed", map[string]any{"id": "msg_1"})
		writeEvent(w, "thread.run.completed", map[string]any{"id": "run_1", "status": "completed"})
		writeEvent(w, "done", "[DONE]")
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, time.Second)
	stream, err := client.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []domain.ToolResult{{ToolCallID: "call_a", Output: "Page: Paris"}})
	require.NoError(t, err)

	events := collect(t, stream)
	require.Len(t, events, 4)
	assert.Equal(t, domain.StreamEventTextCreated, events[0].Kind)
	assert.Equal(t, "The capital ", events[1].Text)
	assert.Equal(t, "is Paris.", events[2].Text)
	assert.Equal(t, domain.StreamEventRunCompleted, events[3].Kind)
	assert.Equal(t, "run_1", events[3].RunID)

	require.Len(t, gotBody.ToolOutputs, 1)
	assert.Equal(t, "call_a", gotBody.ToolOutputs[0].ToolCallID)
	assert.Equal(t, "Page: Paris", gotBody.ToolOutputs[0].Output)
	assert.True(t, gotBody.Stream)
}

func TestRunStreamFailureEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "thread.run.failed", map[string]any{
			"id":         "run_9",
			"status":     "failed",
			"last_error": map[string]any{"code": "rate_limit_exceeded", "message": "slow down"},
		})
	}))
	defer server.Close()

	stream, err := NewOpenAIClient("sk-test", server.URL, time.Second).StartRun(context.Background(), "t", "a")
	require.NoError(t, err)
	events := collect(t, stream)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamEventRunFailed, events[0].Kind)
	assert.Equal(t, "rate_limit_exceeded: slow down", events[0].Reason)
}

func TestOpenStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer server.Close()

	_, err := NewOpenAIClient("bad", server.URL, time.Second).StartRun(context.Background(), "t", "a")
	assert.ErrorContains(t, err, "status 401: Incorrect API key provided")
}

func TestListMessagesPaginates(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_1/messages", r.URL.Path)
		assert.Equal(t, "asc", r.URL.Query().Get("order"))
		pages++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"object":   "list",
				"data":     []map[string]any{{"id": "m1", "role": "user", "created_at": 100, "content": []map[string]any{{"type": "text", "text": map[string]any{"value": "hi", "annotations": []any{}}}}}},
				"first_id": "m1",
				"last_id":  "m1",
				"has_more": true,
			})
			return
		}
		assert.Equal(t, "m1", r.URL.Query().Get("after"))
		json.NewEncoder(w).Encode(map[string]any{
			"object":   "list",
			"data":     []map[string]any{{"id": "m2", "role": "assistant", "created_at": 101, "content": []map[string]any{{"type": "text", "text": map[string]any{"value": "hello", "annotations": []any{}}}}}},
			"first_id": "m2",
			"last_id":  "m2",
			"has_more": false,
		})
	}))
	defer server.Close()

	msgs, err := NewOpenAIClient("sk-test", server.URL, time.Second).ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
}
