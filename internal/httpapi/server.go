// Package httpapi is the local control surface of the watch client: a small
// echo server bound to localhost that drives the sync controller and chat.
package httpapi

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/AumSorathiya/watch-together.github.io/internal/chat"
	"github.com/AumSorathiya/watch-together.github.io/internal/presence"
	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/syncer"
)

type Server struct {
	ctrl     *syncer.Controller
	tracker  *presence.Tracker
	chat     *chat.Client
	router   *echo.Echo
	historyN int

	mu      sync.Mutex
	history []protocol.ChatMessage
}

type loadRequest struct {
	URL string `json:"url"`
}

type seekRequest struct {
	Seconds float64 `json:"seconds"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type statusResponse struct {
	syncer.Status
	HostID string                   `json:"hostId"`
	Online []protocol.PresenceEntry `json:"online"`
}

func NewServer(ctrl *syncer.Controller, tracker *presence.Tracker, chatClient *chat.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	server := &Server{
		ctrl:     ctrl,
		tracker:  tracker,
		chat:     chatClient,
		router:   e,
		historyN: 200,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/api/status", server.handleStatus)
	e.POST("/api/load", server.handleLoad)
	e.POST("/api/toggle-play", server.handleTogglePlay)
	e.POST("/api/seek", server.handleSeek)
	e.POST("/api/volume", server.handleVolume)
	e.POST("/api/toggle-mute", server.handleToggleMute)
	e.POST("/api/force-sync", server.handleForceSync)
	e.GET("/api/chat", server.handleChatHistory)
	e.POST("/api/chat", server.handleChatSend)
	e.POST("/api/chat/typing", server.handleTyping)

	return server
}

func (s *Server) Router() http.Handler {
	return s.router
}

// Record keeps a rolling window of chat messages for /api/chat; wire it as
// the chat Follow callback.
func (s *Server) Record(msg protocol.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
	if len(s.history) > s.historyN {
		s.history = s.history[len(s.history)-s.historyN:]
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status: s.ctrl.Status(),
		HostID: s.tracker.HostID(),
		Online: s.tracker.Online(),
	})
}

func (s *Server) handleLoad(c echo.Context) error {
	var payload loadRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.URL == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "url is required")
	}
	if err := s.ctrl.Load(payload.URL); err != nil {
		return respondError(c, http.StatusUnprocessableEntity, "unsupported_url", err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleTogglePlay(c echo.Context) error {
	s.ctrl.TogglePlay()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleSeek(c echo.Context) error {
	var payload seekRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.Seconds < 0 {
		return respondError(c, http.StatusBadRequest, "invalid_request", "seconds must be non-negative")
	}
	s.ctrl.SeekTo(payload.Seconds)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleVolume(c echo.Context) error {
	var payload volumeRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	s.ctrl.SetVolume(payload.Volume)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleToggleMute(c echo.Context) error {
	s.ctrl.ToggleMute()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleForceSync(c echo.Context) error {
	s.ctrl.ForceSync()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleChatHistory(c echo.Context) error {
	s.mu.Lock()
	history := append([]protocol.ChatMessage(nil), s.history...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleChatSend(c echo.Context) error {
	var payload chatRequest
	if err := c.Bind(&payload); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if payload.Text == "" {
		return respondError(c, http.StatusBadRequest, "invalid_request", "text is required")
	}
	if err := s.chat.Send(c.Request().Context(), payload.Text); err != nil {
		return respondError(c, http.StatusBadGateway, "send_failed", err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleTyping(c echo.Context) error {
	if err := s.chat.Typing(c.Request().Context()); err != nil {
		return respondError(c, http.StatusBadGateway, "typing_failed", err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.Envelope{
		Kind: protocol.KindError,
		Data: protocol.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
