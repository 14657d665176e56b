// Package server exposes the agent over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hattiebot/familiar/internal/agent"
	"github.com/hattiebot/familiar/internal/health"
	"github.com/hattiebot/familiar/internal/store"
)

// Agent runs conversation turns.
type Agent interface {
	RunTurn(ctx context.Context, conversation, prompt string, onToken func(string)) (*agent.TurnResult, error)
	Stream(ctx context.Context, conversation, prompt string) <-chan agent.Event
}

// History reads and clears stored conversations.
type History interface {
	RecentMessages(ctx context.Context, conversation string, limit int) ([]store.Message, error)
	ClearConversation(ctx context.Context, conversation string) error
}

// Server is the HTTP surface.
type Server struct {
	echo    *echo.Echo
	agent   Agent
	history History
	health  *health.Registry
	log     zerolog.Logger
}

// New builds a server with routes registered. health may be nil.
func New(a Agent, h History, reg *health.Registry, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if reg == nil {
		reg = health.NewRegistry()
	}
	s := &Server{
		echo:    e,
		agent:   a,
		history: h,
		health:  reg,
		log:     log.With().Str("component", "server").Logger(),
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.requestLogger())
	s.RegisterRoutes(e)
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errc <- s.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Info()
			if v.Error != nil {
				ev = s.log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
