// Package httpserver exposes the webhook and media stream endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/calltap/calltap/internal/config"
	"github.com/calltap/calltap/internal/session"
	"github.com/calltap/calltap/internal/stream"
)

// SessionInfo is the subset of the session controller the HTTP layer
// reads for status reporting.
type SessionInfo interface {
	State() session.State
	CallID() string
}

// Server serves the TwiML webhook, call status callbacks and the
// media stream WebSocket endpoint.
type Server struct {
	cfg     *config.Config
	echo    *echo.Echo
	streams *stream.Handler
	session SessionInfo
}

func New(cfg *config.Config, streams *stream.Handler, session SessionInfo) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:     cfg,
		echo:    e,
		streams: streams,
		session: session,
	}

	e.GET("/", s.handleRoot)
	e.GET("/healthz", s.handleHealth)
	e.POST("/twiml", s.handleTwiML)
	e.POST("/call/status", s.handleCallStatus)
	e.GET("/media-stream", s.handleMediaStream)

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("[HTTP] Listening", "addr", s.cfg.HTTPAddr)
	if err := s.echo.Start(s.cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service":       "calltap",
		"state":         s.session.State().String(),
		"call_sid":      s.session.CallID(),
		"websocket_url": s.cfg.MediaStreamURL(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// handleTwiML answers Twilio's webhook when the outbound call is
// picked up. The returned TwiML opens a media stream back to this
// process and then keeps the call alive.
func (s *Server) handleTwiML(c echo.Context) error {
	callSID := c.FormValue("CallSid")
	slog.Info("[HTTP] TwiML requested", "call_sid", callSID)

	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Start>
    <Stream url="%s" />
  </Start>
  <Say>Connected.</Say>
  <Pause length="3600"/>
</Response>`, s.cfg.MediaStreamURL())

	// XMLBlob serves the document as-is; c.XML would re-escape it.
	return c.XMLBlob(http.StatusOK, []byte(twiml))
}

func (s *Server) handleCallStatus(c echo.Context) error {
	slog.Info("[HTTP] Call status update",
		"call_sid", c.FormValue("CallSid"),
		"status", c.FormValue("CallStatus"),
		"duration", c.FormValue("CallDuration"))
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleMediaStream(c echo.Context) error {
	if err := s.streams.ServeWS(c.Response(), c.Request()); err != nil {
		// ServeWS already wrote the rejection response where needed.
		slog.Debug("[HTTP] Media stream ended with error", "error", err)
	}
	return nil
}
