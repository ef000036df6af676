package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/service"
)

// session starts or reuses the session named in the path with the caller's key.
func (h *Handler) session(c echo.Context) (*domain.Session, error) {
	return h.service.StartSession(c.Request().Context(), c.Param("host_session_id"), c.Request().Header.Get(APIKeyHeader))
}

// StartSession binds a host session to a hosted conversation.
// POST /v1/sessions/:host_session_id
func (h *Handler) StartSession(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns the conversation history.
// GET /v1/sessions/:host_session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return errorJSON(c, err)
	}
	messages, err := h.service.LoadHistory(c.Request().Context(), session)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
	})
}

// ListRuns lists the session's runs, newest first.
// GET /v1/sessions/:host_session_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return errorJSON(c, err)
	}
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	runs, err := h.service.ListRuns(c.Request().Context(), session, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// PostMessageRequest is the body of POST /v1/sessions/:host_session_id/messages.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage sends a message and streams the answer as server-sent events:
// one "message" event, a "delta" per chunk, then "done" or "error".
// POST /v1/sessions/:host_session_id/messages
func (h *Handler) PostMessage(c echo.Context) error {
	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	session, err := h.session(c)
	if err != nil {
		return errorJSON(c, err)
	}

	next, stop := iter.Pull2(h.service.SendMessage(c.Request().Context(), session, req.Content))
	defer stop()

	// Errors raised before the run starts still get a plain status code.
	chunk, err, ok := next()
	if ok && err != nil && (errors.Is(err, domain.ErrRunInProgress) || errors.Is(err, domain.ErrSessionNotFound)) {
		return errorJSON(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, "message", map[string]string{"role": string(domain.RoleAssistant)}); err != nil {
		return nil
	}

	var last service.Chunk
	for ; ok; chunk, err, ok = next() {
		if err != nil {
			writeEvent(res, "error", map[string]string{"run_id": chunk.RunID, "code": domain.ErrorCode(err), "message": err.Error()})
			return nil
		}
		last = chunk
		if err := writeEvent(res, "delta", chunk); err != nil {
			return nil
		}
	}
	writeEvent(res, "done", map[string]string{"run_id": last.RunID, "text": last.Text})
	return nil
}

func writeEvent(res *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
