package service

import (
	"context"
	"errors"
	"strings"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// Presenter renders a conversation. Each presentation surface provides one.
type Presenter interface {
	// BeginMessage opens a new message bubble for role.
	BeginMessage(role domain.Role)
	// UpdateMessage replaces the content of the open message.
	UpdateMessage(text string)
	ShowHistory(messages []domain.Message)
	Warn(text string)
	Fail(err error)
}

// Interact runs one page interaction: start the session, show the
// history, then answer query if there is one. Failures are reported to p;
// the returned error is the one that stopped the interaction, if any.
func (s *Service) Interact(ctx context.Context, p Presenter, hostSessionID, apiKey, query string) error {
	session, err := s.startFor(ctx, p, hostSessionID, apiKey)
	if err != nil {
		return err
	}

	history, err := s.LoadHistory(ctx, session)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.SessionID).Msg("history unavailable")
		p.Fail(err)
		history = nil
	}
	p.ShowHistory(history)

	if strings.TrimSpace(query) == "" {
		return nil
	}
	return s.answer(ctx, p, session, query)
}

// Answer answers query for a page that already shows the history. The
// messages of the exchange are presented only once the run has started;
// a rejected request reaches p through Fail alone.
func (s *Service) Answer(ctx context.Context, p Presenter, hostSessionID, apiKey, query string) error {
	session, err := s.startFor(ctx, p, hostSessionID, apiKey)
	if err != nil {
		return err
	}
	return s.answer(ctx, p, session, query)
}

func (s *Service) startFor(ctx context.Context, p Presenter, hostSessionID, apiKey string) (*domain.Session, error) {
	session, err := s.StartSession(ctx, hostSessionID, apiKey)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCredential) {
			p.Warn(err.Error())
		} else {
			p.Fail(err)
		}
		return nil, err
	}
	return session, nil
}

func (s *Service) answer(ctx context.Context, p Presenter, session *domain.Session, query string) error {
	started := OnRunStarted(func(string) {
		p.BeginMessage(domain.RoleUser)
		p.UpdateMessage(query)
		p.BeginMessage(domain.RoleAssistant)
	})
	for chunk, err := range s.SendMessage(ctx, session, query, started) {
		if err != nil {
			p.Fail(err)
			return err
		}
		p.UpdateMessage(chunk.Text)
	}
	return nil
}
