package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// traceEvent records an event and logs a failure instead of returning it:
// trace storage never decides the outcome of a run.
func (s *Service) traceEvent(ctx context.Context, runID string, eventType domain.EventType, payload any) {
	if err := s.recordEvent(ctx, runID, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("run_id", runID).Str("event", string(eventType)).Msg("failed to record event")
	}
}
