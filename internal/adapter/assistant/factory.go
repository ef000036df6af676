package assistant

import (
	"github.com/rs/zerolog"

	"github.com/banminseok/assistantAPI/internal/config"
)

// NewFactory returns a Factory for the configured mode. In mock mode every
// API key shares one in-process MockClient so sessions survive across calls.
func NewFactory(cfg *config.Config, logger zerolog.Logger) Factory {
	if cfg.Mode == config.ModeMock {
		logger.Info().Msg("RESEARCH_MODE=MOCK detected, using mock assistant client")
		mock := NewMockClient()
		return func(apiKey string) (Client, error) {
			return mock, nil
		}
	}
	return func(apiKey string) (Client, error) {
		return NewOpenAIClient(apiKey, cfg.OpenAIBaseURL, cfg.RequestTimeout), nil
	}
}
