// Package v1 provides the versioned REST and SSE handlers.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/service"
)

// APIKeyHeader carries the caller's OpenAI API key.
const APIKeyHeader = "X-API-Key"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions/:host_session_id", h.StartSession)
	e.GET("/v1/sessions/:host_session_id/messages", h.GetSessionMessages)
	e.POST("/v1/sessions/:host_session_id/messages", h.PostMessage)
	e.GET("/v1/sessions/:host_session_id/runs", h.ListRuns)

	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/tool_calls", h.GetRunToolCalls)

	e.GET("/v1/tools", h.ListTools)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingCredential), errors.Is(err, domain.ErrCredentialMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}
