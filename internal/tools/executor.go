package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/observability"
)

// Guard decides whether a tool invocation may run.
type Guard interface {
	Check(ctx context.Context, toolName string, args json.RawMessage) (allowed bool, reason string, err error)
}

// Outcome is the full record of one executed invocation.
type Outcome struct {
	Request  domain.ToolInvocationRequest
	Args     json.RawMessage
	Result   domain.ToolResult
	Status   domain.ToolCallStatus
	Reason   string
	Started  time.Time
	Finished time.Time
}

// Executor runs batches of tool invocations against a registry.
type Executor struct {
	registry    *Registry
	guard       Guard
	metrics     *observability.Metrics
	logger      zerolog.Logger
	timeout     time.Duration
	concurrency int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithGuard sets the policy consulted before each invocation.
func WithGuard(g Guard) ExecutorOption {
	return func(e *Executor) { e.guard = g }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTimeout bounds each individual invocation.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithConcurrency caps how many invocations of one batch run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		logger:      zerolog.Nop(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteAll runs every request and returns one result per request, in
// request order. Tool failures are reported inside the result text; the
// only error cases are an unknown tool name (nothing is executed) and a
// cancelled context.
func (e *Executor) ExecuteAll(ctx context.Context, requests []domain.ToolInvocationRequest) ([]domain.ToolResult, error) {
	outcomes, err := e.ExecuteBatch(ctx, requests)
	if err != nil {
		return nil, err
	}
	results := make([]domain.ToolResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.Result
	}
	return results, nil
}

// ExecuteBatch is ExecuteAll with the per-invocation audit details.
func (e *Executor) ExecuteBatch(ctx context.Context, requests []domain.ToolInvocationRequest) ([]Outcome, error) {
	tools := make([]Tool, len(requests))
	for i, req := range requests {
		tool, ok := e.registry.Lookup(req.Name)
		if !ok {
			return nil, &domain.UnknownToolError{Name: req.Name}
		}
		tools[i] = tool
	}

	outcomes := make([]Outcome, len(requests))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i := range requests {
		g.Go(func() error {
			outcomes[i] = e.invoke(ctx, tools[i], requests[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (e *Executor) invoke(ctx context.Context, tool Tool, req domain.ToolInvocationRequest) (out Outcome) {
	out = Outcome{
		Request: req,
		Args:    parseArguments(req.Arguments),
		Started: time.Now(),
	}
	log := e.logger.With().Str("tool", tool.Name).Str("tool_call_id", req.ID).Logger()
	if string(out.Args) == "{}" && req.Arguments != "" && req.Arguments != "{}" {
		log.Warn().Str("arguments", req.Arguments).Msg("unparseable tool arguments, using empty object")
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tool handler panicked")
			out.Status = domain.ToolCallStatusFailed
			out.Reason = fmt.Sprintf("panic: %v", r)
			out.Result.Output = fmt.Sprintf("Error running %s: panic: %v", tool.Name, r)
		}
		out.Result.ToolCallID = req.ID
		out.Finished = time.Now()
		e.metrics.ObserveTool(tool.Name, outcomeLabel(out.Status), out.Started)
	}()

	if e.guard != nil {
		allowed, reason, err := e.guard.Check(ctx, tool.Name, out.Args)
		if err != nil {
			log.Warn().Err(err).Msg("policy evaluation failed, allowing")
		} else if !allowed {
			out.Status = domain.ToolCallStatusBlocked
			out.Reason = reason
			out.Result.Output = fmt.Sprintf("Tool %s blocked by policy: %s", tool.Name, reason)
			return out
		}
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	text, err := tool.Handler(callCtx, out.Args)
	if err != nil {
		log.Warn().Err(err).Msg("tool failed")
		out.Status = domain.ToolCallStatusFailed
		out.Reason = err.Error()
		out.Result.Output = fmt.Sprintf("Error running %s: %v", tool.Name, err)
		return out
	}
	out.Status = domain.ToolCallStatusSucceeded
	out.Result.Output = text
	return out
}

// parseArguments returns the arguments as a JSON object, or {} when the
// payload is not one.
func parseArguments(raw string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

func outcomeLabel(status domain.ToolCallStatus) string {
	switch status {
	case domain.ToolCallStatusSucceeded:
		return "ok"
	case domain.ToolCallStatusBlocked:
		return "blocked"
	default:
		return "error"
	}
}
