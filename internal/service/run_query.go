package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// ListTools returns the definitions the assistant is offered.
func (s *Service) ListTools() []domain.ToolDefinition {
	return s.registry.Definitions()
}

func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// AuthorizeRun returns the run when apiKey opened the session that owns it.
func (s *Service) AuthorizeRun(ctx context.Context, runID, apiKey string) (*domain.Run, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.ErrMissingCredential
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(ctx, run.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrRunNotFound
	}
	if !ownedBy(session, apiKey) {
		return nil, domain.ErrCredentialMismatch
	}
	return run, nil
}

func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}

func (s *Service) GetRunToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error) {
	calls, err := s.store.ListToolCalls(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool calls: %w", err)
	}
	return calls, nil
}

// ListRuns lists a session's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, session *domain.Session, limit int) ([]domain.Run, error) {
	runs, err := s.store.ListRuns(ctx, session.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
