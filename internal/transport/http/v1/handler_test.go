package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banminseok/assistantAPI/internal/adapter/assistant"
	"github.com/banminseok/assistantAPI/internal/adapter/scraper"
	"github.com/banminseok/assistantAPI/internal/config"
	"github.com/banminseok/assistantAPI/internal/domain"
	store "github.com/banminseok/assistantAPI/internal/repository"
	"github.com/banminseok/assistantAPI/internal/service"
	"github.com/banminseok/assistantAPI/internal/tools"
)

type staticSearcher string

func (s staticSearcher) Search(ctx context.Context, query string) (string, error) {
	return string(s), nil
}

func newTestHandler(t *testing.T) (*Handler, *assistant.MockClient) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg, tools.Builtins{
		Wikipedia:  staticSearcher("Page: Paris\nSummary: Paris is the capital of France."),
		DuckDuckGo: staticSearcher("snippet: Paris, title: Paris, link: https://example.com"),
		Web:        scraper.New(),
	}))

	mock := assistant.NewMockClient()
	cfg := &config.Config{AssistantName: "Research Assistant Agent", AssistantModel: "gpt-4o-mini", AgentTimeout: 10 * time.Second}
	factory := func(string) (assistant.Client, error) { return mock, nil }
	svc := service.New(db, factory, reg, tools.NewExecutor(reg), cfg, nil, zerolog.Nop())
	return NewHandler(svc), mock
}

func sessionContext(e *echo.Echo, method, target, body, apiKey string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("host_session_id")
	c.SetParamValues("host-1")
	return c, rec
}

func runContext(e *echo.Echo, target, runID, apiKey string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)
	return c, rec
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestStartSessionRequiresKey(t *testing.T) {
	e := echo.New()
	h, mock := newTestHandler(t)

	c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1", "", "")
	require.NoError(t, h.StartSession(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "please enter your OpenAI API key to continue")
	assert.Zero(t, mock.TotalCalls())
}

func TestStartSessionIdempotent(t *testing.T) {
	e := echo.New()
	h, mock := newTestHandler(t)

	var ids []string
	for range 2 {
		c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1", "", "sk-test")
		require.NoError(t, h.StartSession(c))
		require.Equal(t, http.StatusOK, rec.Code)
		var session domain.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, "host-1", session.HostSessionID)
		ids = append(ids, session.SessionID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 1, mock.Calls("CreateAssistant"))
}

func TestPostMessageStreamsAnswer(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"capital of France"}`, "sk-test")
	require.NoError(t, h.PostMessage(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events := parseSSE(rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "message", events[0].name)
	assert.Equal(t, "delta", events[1].name)

	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	var done struct {
		RunID string `json:"run_id"`
		Text  string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Contains(t, done.Text, "Paris")
	assert.NotEmpty(t, done.RunID)

	// The run trace is queryable afterwards.
	rc, rec := runContext(e, "/v1/runs/"+done.RunID+"/events?types=run_started,run_completed", done.RunID, "sk-test")
	require.NoError(t, h.GetRunEvents(rc))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, domain.EventTypeRunStarted, resp.Events[0].Type)
	assert.Equal(t, domain.EventTypeRunCompleted, resp.Events[1].Type)
}

func TestPostMessageRunFailureIsAnEvent(t *testing.T) {
	e := echo.New()
	h, mock := newTestHandler(t)
	mock.FailReason = "server_error: boom"

	c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"capital of France"}`, "sk-test")
	require.NoError(t, h.PostMessage(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(rec.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, "error", last.name)
	assert.Contains(t, last.data, `"code":"run_failed"`)
	assert.Contains(t, last.data, "server_error: boom")
}

func TestPostMessageValidation(t *testing.T) {
	e := echo.New()
	h, mock := newTestHandler(t)

	c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"  "}`, "sk-test")
	require.NoError(t, h.PostMessage(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"hi"}`, "")
	require.NoError(t, h.PostMessage(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, mock.TotalCalls())
}

func TestGetSessionMessages(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	c, _ := sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"capital of France"}`, "sk-test")
	require.NoError(t, h.PostMessage(c))

	c, rec := sessionContext(e, http.MethodGet, "/v1/sessions/host-1/messages", "", "sk-test")
	require.NoError(t, h.GetSessionMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "capital of France", resp.Messages[0].Content)

	c, rec = sessionContext(e, http.MethodGet, "/v1/sessions/host-1/runs", "", "sk-test")
	require.NoError(t, h.ListRuns(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	for _, handler := range []echo.HandlerFunc{h.GetRun, h.GetRunEvents, h.GetRunToolCalls} {
		c, rec := runContext(e, "/v1/runs/r1", "r1", "sk-test")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		c, rec = runContext(e, "/v1/runs/r1", "r1", "")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestSessionBelongsToItsKey(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	c, rec := sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"capital of France"}`, "sk-owner")
	require.NoError(t, h.PostMessage(c))
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(rec.Body.String())
	var done struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))

	c, rec = sessionContext(e, http.MethodPost, "/v1/sessions/host-1", "", "anything")
	require.NoError(t, h.StartSession(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = sessionContext(e, http.MethodPost, "/v1/sessions/host-1/messages", `{"content":"hi"}`, "anything")
	require.NoError(t, h.PostMessage(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = sessionContext(e, http.MethodGet, "/v1/sessions/host-1/messages", "", "anything")
	require.NoError(t, h.GetSessionMessages(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "capital of France")

	c, rec = sessionContext(e, http.MethodGet, "/v1/sessions/host-1/runs", "", "anything")
	require.NoError(t, h.ListRuns(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, handler := range []echo.HandlerFunc{h.GetRun, h.GetRunEvents, h.GetRunToolCalls} {
		c, rec := runContext(e, "/v1/runs/"+done.RunID, done.RunID, "anything")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		c, rec = runContext(e, "/v1/runs/"+done.RunID, done.RunID, "sk-owner")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestListTools(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListTools(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tools []domain.ToolDefinition `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 3)
	assert.Equal(t, tools.WikipediaSearch, resp.Tools[0].Name)
	assert.Contains(t, string(resp.Tools[2].Parameters), `"url"`)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
