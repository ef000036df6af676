// Package service is the streaming session controller: it binds host
// sessions to hosted conversations and drives each run through its tool
// calls until the answer is complete.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/banminseok/assistantAPI/internal/adapter/assistant"
	"github.com/banminseok/assistantAPI/internal/config"
	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/observability"
	store "github.com/banminseok/assistantAPI/internal/repository"
	"github.com/banminseok/assistantAPI/internal/tools"
)

type Service struct {
	store    store.Store
	factory  assistant.Factory
	registry *tools.Registry
	executor *tools.Executor
	config   *config.Config
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession is the in-memory half of a session. ready is closed once
// creation finished; err is set when it failed.
type liveSession struct {
	ready   chan struct{}
	session *domain.Session
	client  assistant.Client
	err     error
	active  atomic.Bool
}

func New(st store.Store, factory assistant.Factory, registry *tools.Registry, executor *tools.Executor, cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		factory:  factory,
		registry: registry,
		executor: executor,
		config:   cfg,
		metrics:  metrics,
		logger:   observability.Component(logger, "service"),
		sessions: make(map[string]*liveSession),
	}
}

// Session returns the started session for a host session id.
func (s *Service) Session(hostSessionID string) (*domain.Session, bool) {
	ls, err := s.lookup(hostSessionID)
	if err != nil {
		return nil, false
	}
	return ls.session, true
}

func (s *Service) lookup(hostSessionID string) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.sessions[hostSessionID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	select {
	case <-ls.ready:
	default:
		return nil, domain.ErrSessionNotFound
	}
	if ls.err != nil {
		return nil, domain.ErrSessionNotFound
	}
	return ls, nil
}

// detached keeps store writes and cleanup alive after the caller's context
// is cancelled.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
