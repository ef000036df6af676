package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/banminseok/assistantAPI/internal/domain"
)

// GetRun retrieves a run. Run routes require the key of the owning session.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.authorizeRun(c, c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents retrieves events for a run.
// GET /v1/runs/:run_id/events?after_ts=&types=a,b&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}
	var types []string
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	if _, err := h.authorizeRun(c, runID); err != nil {
		return errorJSON(c, err)
	}
	events, err := h.service.GetRunEvents(c.Request().Context(), runID, afterTs, types, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
	})
}

// GetRunToolCalls lists the tool calls executed during a run.
// GET /v1/runs/:run_id/tool_calls
func (h *Handler) GetRunToolCalls(c echo.Context) error {
	runID := c.Param("run_id")
	if _, err := h.authorizeRun(c, runID); err != nil {
		return errorJSON(c, err)
	}
	calls, err := h.service.GetRunToolCalls(c.Request().Context(), runID)
	if err != nil {
		return errorJSON(c, err)
	}
	if calls == nil {
		calls = []domain.ToolCall{}
	}
	return c.JSON(http.StatusOK, map[string]any{"tool_calls": calls})
}

func (h *Handler) authorizeRun(c echo.Context, runID string) (*domain.Run, error) {
	return h.service.AuthorizeRun(c.Request().Context(), runID, c.Request().Header.Get(APIKeyHeader))
}

// ListTools lists the registered tools with their argument schemas.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"tools": h.service.ListTools()})
}
