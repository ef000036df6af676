package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// Planner chooses the tool calls a mock run requests for a user query.
type Planner func(query string) []domain.ToolInvocationRequest

// Responder writes the mock answer from the query and the tool results.
type Responder func(query string, results []domain.ToolResult) string

// MockClient is an in-process scripted assistant. Every run asks for the
// planned tools once, then streams the responder's answer.
type MockClient struct {
	Planner   Planner
	Responder Responder
	// FailReason, when set, makes runs fail after tool outputs are submitted.
	FailReason string
	// ChunkSize is the number of characters per text delta.
	ChunkSize int

	mu            sync.Mutex
	seq           int
	calls         map[string]int
	conversations map[string]*mockConversation
	runs          map[string]*mockRun
}

type mockConversation struct {
	messages  []domain.Message
	activeRun string
}

type mockRun struct {
	conversationID string
	query          string
	pending        []domain.ToolInvocationRequest
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock that researches every query on Wikipedia.
func NewMockClient() *MockClient {
	return &MockClient{
		Planner:   WikipediaPlanner,
		Responder: QuotingResponder,
		ChunkSize: 16,
	}
}

// WikipediaPlanner requests one wikipedia_search for the query.
func WikipediaPlanner(query string) []domain.ToolInvocationRequest {
	args, _ := json.Marshal(map[string]string{"query": query})
	return []domain.ToolInvocationRequest{{ID: "call_wiki", Name: "wikipedia_search", Arguments: string(args)}}
}

// QuotingResponder answers with the gathered tool outputs.
func QuotingResponder(query string, results []domain.ToolResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("[MOCK] I have no research results for %q.", query)
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Output)
	}
	return "[MOCK] Here is what I found:\n\n" + strings.Join(parts, "\n\n")
}

func (m *MockClient) init() {
	if m.calls == nil {
		m.calls = make(map[string]int)
		m.conversations = make(map[string]*mockConversation)
		m.runs = make(map[string]*mockRun)
	}
}

func (m *MockClient) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%d", prefix, m.seq)
}

// Calls returns how many times method was invoked.
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.calls[method]
}

// TotalCalls returns the number of backend calls of any kind.
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *MockClient) CreateAssistant(ctx context.Context, cfg AssistantConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["CreateAssistant"]++
	return m.nextID("asst"), nil
}

func (m *MockClient) CreateConversation(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["CreateConversation"]++
	id := m.nextID("thread")
	m.conversations[id] = &mockConversation{}
	return id, nil
}

func (m *MockClient) AppendMessage(ctx context.Context, conversationID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["AppendMessage"]++
	conv, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("thread %s not found", conversationID)
	}
	if conv.activeRun != "" {
		return fmt.Errorf("thread %s has an active run", conversationID)
	}
	conv.messages = append(conv.messages, domain.Message{
		MessageID: m.nextID("msg"),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MockClient) StartRun(ctx context.Context, conversationID, assistantID string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["StartRun"]++
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", conversationID)
	}
	if conv.activeRun != "" {
		return nil, fmt.Errorf("thread %s already has active run %s", conversationID, conv.activeRun)
	}

	var query string
	for i := len(conv.messages) - 1; i >= 0; i-- {
		if conv.messages[i].Role == domain.RoleUser {
			query = conv.messages[i].Content
			break
		}
	}

	runID := m.nextID("run")
	run := &mockRun{conversationID: conversationID, query: query}
	if m.Planner != nil {
		run.pending = m.Planner(query)
	}
	m.runs[runID] = run
	conv.activeRun = runID

	if len(run.pending) > 0 {
		calls := append([]domain.ToolInvocationRequest(nil), run.pending...)
		return newSliceStream(ctx, []domain.StreamEvent{
			{Kind: domain.StreamEventToolInvocationRequired, RunID: runID, Calls: calls},
		}), nil
	}
	return newSliceStream(ctx, m.answerLocked(runID, run, nil)), nil
}

func (m *MockClient) SubmitToolOutputs(ctx context.Context, conversationID, runID string, results []domain.ToolResult) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["SubmitToolOutputs"]++
	run, ok := m.runs[runID]
	if !ok || run.conversationID != conversationID {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if len(run.pending) == 0 {
		return nil, fmt.Errorf("run %s is not awaiting tool outputs", runID)
	}
	if err := matchOutputs(run.pending, results); err != nil {
		return nil, err
	}
	run.pending = nil

	if m.FailReason != "" {
		m.finishLocked(runID, run)
		return newSliceStream(ctx, []domain.StreamEvent{
			{Kind: domain.StreamEventRunFailed, RunID: runID, Reason: m.FailReason},
		}), nil
	}
	return newSliceStream(ctx, m.answerLocked(runID, run, results)), nil
}

// matchOutputs enforces one output per requested call id.
func matchOutputs(pending []domain.ToolInvocationRequest, results []domain.ToolResult) error {
	if len(pending) != len(results) {
		return fmt.Errorf("expected %d tool outputs, got %d", len(pending), len(results))
	}
	want := make(map[string]bool, len(pending))
	for _, p := range pending {
		want[p.ID] = true
	}
	for _, r := range results {
		if !want[r.ToolCallID] {
			return fmt.Errorf("unexpected tool output for %s", r.ToolCallID)
		}
		delete(want, r.ToolCallID)
	}
	return nil
}

func (m *MockClient) answerLocked(runID string, run *mockRun, results []domain.ToolResult) []domain.StreamEvent {
	answer := "[MOCK] No responder configured."
	if m.Responder != nil {
		answer = m.Responder(run.query, results)
	}
	events := []domain.StreamEvent{{Kind: domain.StreamEventTextCreated, RunID: runID}}
	for _, chunk := range splitIntoChunks(answer, m.ChunkSize) {
		events = append(events, domain.StreamEvent{Kind: domain.StreamEventTextDelta, RunID: runID, Text: chunk})
	}
	events = append(events, domain.StreamEvent{Kind: domain.StreamEventRunCompleted, RunID: runID})

	conv := m.conversations[run.conversationID]
	conv.messages = append(conv.messages, domain.Message{
		MessageID: m.nextID("msg"),
		Role:      domain.RoleAssistant,
		Content:   answer,
		CreatedAt: time.Now(),
	})
	m.finishLocked(runID, run)
	return events
}

func (m *MockClient) finishLocked(runID string, run *mockRun) {
	if conv := m.conversations[run.conversationID]; conv != nil && conv.activeRun == runID {
		conv.activeRun = ""
	}
}

func (m *MockClient) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["ListMessages"]++
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", conversationID)
	}
	return append([]domain.Message(nil), conv.messages...), nil
}

func (m *MockClient) CancelRun(ctx context.Context, conversationID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.calls["CancelRun"]++
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.pending = nil
	m.finishLocked(runID, run)
	return nil
}

// splitIntoChunks splits s into pieces of at most size characters.
func splitIntoChunks(s string, size int) []string {
	if size <= 0 {
		size = 16
	}
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{""}
	}
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// sliceStream replays a fixed list of events.
type sliceStream struct {
	ctx    context.Context
	events []domain.StreamEvent
	pos    int
}

func newSliceStream(ctx context.Context, events []domain.StreamEvent) *sliceStream {
	return &sliceStream{ctx: ctx, events: events}
}

func (s *sliceStream) Recv() (domain.StreamEvent, error) {
	if err := s.ctx.Err(); err != nil {
		return domain.StreamEvent{}, err
	}
	if s.pos >= len(s.events) {
		return domain.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }
