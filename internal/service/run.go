package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/banminseok/assistantAPI/internal/adapter/assistant"
	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/tools"
)

const cleanupTimeout = 10 * time.Second

// Chunk is one step of a streamed answer. Text is everything received so
// far in the run; Delta is the part this chunk added.
type Chunk struct {
	RunID string `json:"run_id"`
	Text  string `json:"text"`
	Delta string `json:"delta"`
}

// SendOption configures SendMessage.
type SendOption func(*sendOptions)

type sendOptions struct {
	onStart func(runID string)
}

// OnRunStarted registers fn to be called once the run has been admitted,
// before the message is posted. Errors that end the sequence without fn
// having been called were raised before any run existed.
func OnRunStarted(fn func(runID string)) SendOption {
	return func(o *sendOptions) { o.onStart = fn }
}

// SendMessage posts text to the session's conversation and returns the
// streamed answer. The sequence is lazy: nothing happens until it is
// ranged over, and it can be ranged over only once. A failed run ends the
// sequence with a non-nil error.
func (s *Service) SendMessage(ctx context.Context, session *domain.Session, text string, opts ...SendOption) iter.Seq2[Chunk, error] {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	var consumed atomic.Bool
	return func(yield func(Chunk, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(Chunk{}, domain.ErrStreamConsumed)
			return
		}
		if session == nil {
			yield(Chunk{}, domain.ErrSessionNotFound)
			return
		}
		ls, err := s.lookup(session.HostSessionID)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		if !ls.active.CompareAndSwap(false, true) {
			yield(Chunk{}, domain.ErrRunInProgress)
			return
		}
		defer ls.active.Store(false)

		runCtx := ctx
		if s.config.AgentTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.config.AgentTimeout)
			defer cancel()
		}

		r := &runner{
			svc:     s,
			client:  ls.client,
			session: ls.session,
			runID:   "run_" + uuid.New().String()[:8],
			yield:   yield,
		}
		r.log = s.logger.With().Str("run_id", r.runID).Str("session_id", r.session.SessionID).Logger()
		if o.onStart != nil {
			o.onStart(r.runID)
		}
		r.run(runCtx, text)
	}
}

// runner drives one run through the streaming state machine.
type runner struct {
	svc     *Service
	client  assistant.Client
	session *domain.Session
	runID   string
	log     zerolog.Logger
	yield   func(Chunk, error) bool

	remoteRunID string
	status      domain.RunStatus
	text        strings.Builder
}

func (r *runner) run(ctx context.Context, input string) {
	storeCtx := context.WithoutCancel(ctx)
	s := r.svc

	r.status = domain.RunStatusStreamingText
	if err := s.store.CreateRun(storeCtx, &domain.Run{
		RunID:     r.runID,
		SessionID: r.session.SessionID,
		Status:    r.status,
		StartedAt: time.Now(),
	}); err != nil {
		r.log.Warn().Err(err).Msg("failed to create run")
	}
	s.traceEvent(storeCtx, r.runID, domain.EventTypeRunStarted, domain.RunStartedPayload{
		SessionID:      r.session.SessionID,
		ConversationID: r.session.ConversationID,
		AssistantID:    r.session.AssistantID,
	})
	s.traceEvent(storeCtx, r.runID, domain.EventTypeUserInput, domain.UserInputPayload{Content: input})

	if err := r.client.AppendMessage(ctx, r.session.ConversationID, input); err != nil {
		r.fail(ctx, "transport_error", err)
		return
	}
	stream, err := r.client.StartRun(ctx, r.session.ConversationID, r.session.AssistantID)
	if err != nil {
		r.fail(ctx, "transport_error", err)
		return
	}
	defer func() { stream.Close() }()

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			r.fail(ctx, "transport_error", errors.New("stream ended before the run completed"))
			return
		}
		if err != nil {
			r.fail(ctx, "transport_error", err)
			return
		}
		r.trackRemoteID(storeCtx, ev.RunID)

		switch ev.Kind {
		case domain.StreamEventTextCreated:
			if r.text.Len() > 0 {
				r.text.WriteString("\n\n")
			}

		case domain.StreamEventTextDelta:
			r.text.WriteString(ev.Text)
			if !r.yield(Chunk{RunID: r.runID, Text: r.text.String(), Delta: ev.Text}, nil) {
				r.abandon(ctx)
				return
			}

		case domain.StreamEventToolInvocationRequired:
			next, ok := r.answerTools(ctx, ev)
			if !ok {
				return
			}
			stream.Close()
			stream = next
			r.setStatus(storeCtx, domain.RunStatusStreamingText)

		case domain.StreamEventRunCompleted:
			r.complete(storeCtx)
			return

		case domain.StreamEventRunFailed:
			r.finishFailed(storeCtx, &domain.RunFailedError{RunID: r.runID, Code: "run_failed", Reason: ev.Reason})
			return
		}
	}
}

// answerTools executes one tool batch and resumes the hosted run.
func (r *runner) answerTools(ctx context.Context, ev domain.StreamEvent) (assistant.Stream, bool) {
	storeCtx := context.WithoutCancel(ctx)
	s := r.svc

	r.setStatus(storeCtx, domain.RunStatusAwaitingToolOutputs)
	s.traceEvent(storeCtx, r.runID, domain.EventTypeToolInvocationRequired, domain.ToolInvocationPayload{
		RemoteRunID: ev.RunID,
		Calls:       ev.Calls,
	})

	outcomes, err := s.executor.ExecuteBatch(ctx, ev.Calls)
	if err != nil {
		var unknown *domain.UnknownToolError
		if errors.As(err, &unknown) {
			r.log.Error().Str("tool", unknown.Name).Msg("assistant requested an unknown tool")
			r.cancelRemote(ctx)
			r.finishFailed(storeCtx, unknown)
			return nil, false
		}
		r.fail(ctx, "tool_error", err)
		return nil, false
	}

	results := make([]domain.ToolResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.Result
		r.recordToolCall(storeCtx, o)
	}
	s.traceEvent(storeCtx, r.runID, domain.EventTypeToolOutputsSubmitted, domain.ToolOutputsPayload{Results: results})

	next, err := r.client.SubmitToolOutputs(ctx, r.session.ConversationID, ev.RunID, results)
	if err != nil {
		r.fail(ctx, "transport_error", err)
		return nil, false
	}
	return next, true
}

func (r *runner) recordToolCall(ctx context.Context, o tools.Outcome) {
	finished := o.Finished
	if err := r.svc.store.CreateToolCall(ctx, &domain.ToolCall{
		ToolCallID:  o.Request.ID,
		RunID:       r.runID,
		ToolName:    o.Request.Name,
		Status:      o.Status,
		Args:        o.Args,
		Output:      o.Result.Output,
		CreatedAt:   o.Started,
		CompletedAt: &finished,
	}); err != nil {
		r.log.Warn().Err(err).Str("tool_call_id", o.Request.ID).Msg("failed to record tool call")
	}
	if o.Status == domain.ToolCallStatusBlocked {
		r.svc.traceEvent(ctx, r.runID, domain.EventTypePolicyDecision, domain.PolicyDecisionPayload{
			ToolCallID: o.Request.ID,
			ToolName:   o.Request.Name,
			Decision:   "block",
			Reason:     o.Reason,
		})
	}
}

func (r *runner) trackRemoteID(ctx context.Context, remoteRunID string) {
	if remoteRunID == "" || remoteRunID == r.remoteRunID {
		return
	}
	r.remoteRunID = remoteRunID
	if err := r.svc.store.UpdateRunRemoteID(ctx, r.runID, remoteRunID); err != nil {
		r.log.Warn().Err(err).Msg("failed to store remote run id")
	}
}

func (r *runner) setStatus(ctx context.Context, status domain.RunStatus) {
	r.status = status
	if err := r.svc.store.UpdateRunStatus(ctx, r.runID, status); err != nil {
		r.log.Warn().Err(err).Str("status", string(status)).Msg("failed to update run status")
	}
}

func (r *runner) complete(ctx context.Context) {
	s := r.svc
	r.status = domain.RunStatusCompleted
	s.traceEvent(ctx, r.runID, domain.EventTypeAssistantText, domain.AssistantTextPayload{Text: r.text.String()})
	s.traceEvent(ctx, r.runID, domain.EventTypeRunCompleted, map[string]any{"remote_run_id": r.remoteRunID})
	if err := s.store.UpdateRunCompleted(ctx, r.runID, domain.RunStatusCompleted, nil); err != nil {
		r.log.Warn().Err(err).Msg("failed to update run status")
	}
	s.metrics.ObserveRun(string(domain.RunStatusCompleted))
	r.log.Info().Int("chars", r.text.Len()).Msg("run completed")
}

// fail ends the run after a local error, cancelling the hosted run so the
// conversation is not left locked.
func (r *runner) fail(ctx context.Context, code string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.Is(err, context.Canceled):
		code = "cancelled"
	}
	r.cancelRemote(ctx)
	r.finishFailed(context.WithoutCancel(ctx), &domain.RunFailedError{RunID: r.runID, Code: code, Reason: err.Error(), Err: err})
}

// abandon handles a consumer that stopped reading mid-run.
func (r *runner) abandon(ctx context.Context) {
	r.cancelRemote(ctx)
	r.record(context.WithoutCancel(ctx), "abandoned", "consumer stopped reading")
}

func (r *runner) finishFailed(ctx context.Context, err error) {
	code, reason := "run_failed", err.Error()
	var rf *domain.RunFailedError
	var unknown *domain.UnknownToolError
	switch {
	case errors.As(err, &rf):
		code, reason = rf.Code, rf.Reason
	case errors.As(err, &unknown):
		code = "unknown_tool"
	}
	r.record(ctx, code, reason)
	r.log.Error().Str("code", code).Str("reason", reason).Msg("run failed")
	r.yield(Chunk{RunID: r.runID, Text: r.text.String()}, err)
}

func (r *runner) record(ctx context.Context, code, reason string) {
	s := r.svc
	r.status = domain.RunStatusFailed
	if r.text.Len() > 0 {
		s.traceEvent(ctx, r.runID, domain.EventTypeAssistantText, domain.AssistantTextPayload{Text: r.text.String()})
	}
	payload := domain.RunFailedPayload{Code: code, Message: reason}
	s.traceEvent(ctx, r.runID, domain.EventTypeRunFailed, payload)
	errData, _ := json.Marshal(payload)
	if err := s.store.UpdateRunCompleted(ctx, r.runID, domain.RunStatusFailed, errData); err != nil {
		r.log.Warn().Err(err).Msg("failed to update run status")
	}
	s.metrics.ObserveRun(string(domain.RunStatusFailed))
}

func (r *runner) cancelRemote(ctx context.Context) {
	if r.remoteRunID == "" {
		return
	}
	cctx, cancel := detached(ctx, cleanupTimeout)
	defer cancel()
	if err := r.client.CancelRun(cctx, r.session.ConversationID, r.remoteRunID); err != nil {
		r.log.Warn().Err(err).Str("remote_run_id", r.remoteRunID).Str("status", string(r.status)).Msg("failed to cancel hosted run")
	}
}
