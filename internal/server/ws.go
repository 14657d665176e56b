package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hattiebot/familiar/internal/agent"
)

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Frame is one server to client websocket message.
type Frame struct {
	Type   agent.EventType `json:"type"`
	Text   string          `json:"text,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	Args   json.RawMessage `json:"arguments,omitempty"`
	Result *ChatResponse   `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WebSocket handles GET /api/ws. Each client frame {prompt, conversation?} runs one
// turn; its events are sent back as frames. Turns on one connection run in order,
// and closing the connection cancels the running turn.
func (s *Server) WebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	requests := make(chan ChatRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req ChatRequest
			if err := conn.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug().Err(err).Msg("websocket read")
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if err := s.wsTurn(ctx, conn, req); err != nil {
			s.log.Debug().Err(err).Msg("websocket write")
			return nil
		}
	}
	return nil
}

func (s *Server) wsTurn(ctx context.Context, conn *websocket.Conn, req ChatRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return writeFrame(conn, Frame{Type: agent.EventError, Error: agent.ErrEmptyPrompt.Error()})
	}
	for ev := range s.agent.Stream(ctx, req.Conversation, req.Prompt) {
		if err := writeFrame(conn, toFrame(ev)); err != nil {
			return err
		}
		if ev.Type == agent.EventError && ctx.Err() == nil {
			s.log.Error().Err(ev.Err).Bool("fatal", agent.IsFatal(ev.Err)).Msg("turn failed")
		}
	}
	return nil
}

func toFrame(ev agent.Event) Frame {
	f := Frame{Type: ev.Type}
	switch ev.Type {
	case agent.EventToken:
		f.Text = ev.Text
	case agent.EventToolCall, agent.EventToolResult:
		if ev.Call != nil {
			f.Tool = ev.Call.Function.Name
			f.CallID = ev.Call.ID
			if ev.Type == agent.EventToolCall && json.Valid([]byte(ev.Call.Function.Arguments)) {
				f.Args = json.RawMessage(ev.Call.Function.Arguments)
			}
		}
		if ev.Type == agent.EventToolResult {
			f.Text = ev.Text
		}
	case agent.EventDone:
		res := toChatResponse(ev.Result)
		f.Result = &res
	case agent.EventError:
		f.Error = agent.PublicError(ev.Err).Error()
	}
	return f
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(f)
}
