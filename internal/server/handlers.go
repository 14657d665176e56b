package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hattiebot/familiar/internal/agent"
	"github.com/hattiebot/familiar/internal/health"
	"github.com/hattiebot/familiar/internal/store"
)

const defaultHistoryLimit = 50

// ChatRequest is the body of POST /api/chat and of websocket client frames.
type ChatRequest struct {
	Prompt       string `json:"prompt"`
	Conversation string `json:"conversation,omitempty"`
}

// ChatResponse is the JSON form of a completed turn.
type ChatResponse struct {
	Response         string   `json:"response"`
	Significance     int      `json:"significance"`
	SignificanceNote string   `json:"significance_reason,omitempty"`
	ToolsUsed        []string `json:"tools_used"`
	Partial          bool     `json:"partial,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the API routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/chat", s.Chat)
	api.GET("/history", s.GetHistory)
	api.DELETE("/history", s.DeleteHistory)
	api.GET("/ws", s.WebSocket)
}

// Health handles GET /health.
func (s *Server) Health(c echo.Context) error {
	report := s.health.Check(c.Request().Context())
	status := http.StatusOK
	if report.Status == health.StatusError {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

// Chat handles POST /api/chat. The answer streams as plain text unless JSON is
// requested with ?format=json or an Accept: application/json header.
func (s *Server) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return s.turnError(c, agent.ErrEmptyPrompt)
	}
	if wantsJSON(c) {
		return s.chatJSON(c, req)
	}
	return s.chatStream(c, req)
}

func wantsJSON(c echo.Context) bool {
	if c.QueryParam("format") == "json" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

func (s *Server) chatJSON(c echo.Context, req ChatRequest) error {
	res, err := s.agent.RunTurn(c.Request().Context(), req.Conversation, req.Prompt, nil)
	if err != nil {
		return s.turnError(c, err)
	}
	return c.JSON(http.StatusOK, toChatResponse(res))
}

func (s *Server) chatStream(c echo.Context, req ChatRequest) error {
	resp := c.Response()
	committed := false
	for ev := range s.agent.Stream(c.Request().Context(), req.Conversation, req.Prompt) {
		switch ev.Type {
		case agent.EventToken:
			if !committed {
				resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
				resp.Header().Set("X-Content-Type-Options", "nosniff")
				resp.WriteHeader(http.StatusOK)
				committed = true
			}
			if _, err := resp.Write([]byte(ev.Text)); err != nil {
				return nil
			}
			resp.Flush()
		case agent.EventDone:
			if !committed {
				// Nothing streamed: send the saved answer in one piece.
				return c.String(http.StatusOK, ev.Result.Response)
			}
		case agent.EventError:
			if !committed {
				return s.turnError(c, ev.Err)
			}
			s.log.Warn().Err(ev.Err).Str("conversation", req.Conversation).Msg("turn failed mid-stream")
		}
	}
	return nil
}

func (s *Server) turnError(c echo.Context, err error) error {
	public := agent.PublicError(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(public, agent.ErrEmptyPrompt):
		status = http.StatusBadRequest
	case errors.Is(public, context.Canceled):
		// Client went away; the status is never read.
		status = 499
	case errors.Is(public, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		s.log.Error().Err(err).Msg("turn failed")
	}
	return c.JSON(status, ErrorResponse{Error: public.Error()})
}

func toChatResponse(res *agent.TurnResult) ChatResponse {
	tools := res.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	return ChatResponse{
		Response:         res.Response,
		Significance:     res.Significance.Score,
		SignificanceNote: res.Significance.Reason,
		ToolsUsed:        tools,
		Partial:          res.Partial,
	}
}

// GetHistory handles GET /api/history?conversation=&limit=.
func (s *Server) GetHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}
	msgs, err := s.history.RecentMessages(c.Request().Context(), c.QueryParam("conversation"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("read history")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: agent.ErrInternal.Error()})
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// DeleteHistory handles DELETE /api/history?conversation=.
func (s *Server) DeleteHistory(c echo.Context) error {
	conv := c.QueryParam("conversation")
	if err := s.history.ClearConversation(c.Request().Context(), conv); err != nil {
		s.log.Error().Err(err).Msg("clear history")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: agent.ErrInternal.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
