package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banminseok/assistantAPI/internal/adapter/assistant"
	"github.com/banminseok/assistantAPI/internal/domain"
)

// StartSession returns the session bound to hostSessionID, creating the
// hosted assistant and conversation on first use. Concurrent callers for
// the same host session wait for a single creation. Only the key the
// session was opened with may use it afterwards.
func (s *Service) StartSession(ctx context.Context, hostSessionID, apiKey string) (*domain.Session, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.ErrMissingCredential
	}
	if hostSessionID == "" {
		return nil, fmt.Errorf("host session id is required")
	}

	s.mu.Lock()
	if ls, ok := s.sessions[hostSessionID]; ok {
		s.mu.Unlock()
		select {
		case <-ls.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if ls.err != nil {
			return nil, ls.err
		}
		if !ownedBy(ls.session, apiKey) {
			return nil, domain.ErrCredentialMismatch
		}
		return ls.session, nil
	}
	ls := &liveSession{ready: make(chan struct{})}
	s.sessions[hostSessionID] = ls
	s.mu.Unlock()

	ls.session, ls.client, ls.err = s.openSession(ctx, hostSessionID, apiKey)
	if ls.err != nil {
		s.mu.Lock()
		delete(s.sessions, hostSessionID)
		s.mu.Unlock()
	} else {
		s.metrics.SessionOpened()
	}
	close(ls.ready)

	if ls.err != nil {
		return nil, ls.err
	}
	return ls.session, nil
}

func (s *Service) openSession(ctx context.Context, hostSessionID, apiKey string) (*domain.Session, assistant.Client, error) {
	log := s.logger.With().Str("host_session_id", hostSessionID).Logger()

	existing, err := s.store.GetSessionByHost(ctx, hostSessionID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to look up stored session")
	}
	if existing != nil && !ownedBy(existing, apiKey) {
		return nil, nil, domain.ErrCredentialMismatch
	}

	client, err := s.factory(apiKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}
	if existing != nil {
		log.Info().Str("session_id", existing.SessionID).Str("conversation_id", existing.ConversationID).Msg("reattached stored session")
		return existing, client, nil
	}

	assistantID, err := client.CreateAssistant(ctx, assistant.AssistantConfig{
		Name:         s.config.AssistantName,
		Instructions: assistant.DefaultInstructions,
		Model:        s.config.AssistantModel,
		Tools:        s.registry.Definitions(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}
	conversationID, err := client.CreateConversation(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}

	session := &domain.Session{
		SessionID:      "sess_" + uuid.New().String()[:8],
		HostSessionID:  hostSessionID,
		ConversationID: conversationID,
		AssistantID:    assistantID,
		KeyHash:        keyHash(apiKey),
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
	log.Info().Str("session_id", session.SessionID).Str("assistant_id", assistantID).Str("conversation_id", conversationID).Msg("session started")
	return session, client, nil
}

// LoadHistory returns every message of the session's conversation, oldest first.
func (s *Service) LoadHistory(ctx context.Context, session *domain.Session) ([]domain.Message, error) {
	ls, err := s.lookup(session.HostSessionID)
	if err != nil {
		return nil, err
	}
	messages, err := ls.client.ListMessages(ctx, session.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}

func keyHash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func ownedBy(session *domain.Session, apiKey string) bool {
	return subtle.ConstantTimeCompare([]byte(session.KeyHash), []byte(keyHash(apiKey))) == 1
}
