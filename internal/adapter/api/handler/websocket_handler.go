package handler

import (
	"net/http"
	"strings"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"carelink/internal/adapter/api/middleware"
	ws "carelink/internal/infrastructure/websocket"
	"carelink/pkg/logger"
	"carelink/pkg/response"
)

type WebSocketHandler struct {
	events         *ws.EventHandler
	authMiddleware *middleware.AuthMiddleware
	upgrader       gorillaws.Upgrader
}

// NewWebSocketHandler accepts upgrades from allowedOrigins; an empty list or
// "*" accepts any origin.
func NewWebSocketHandler(events *ws.EventHandler, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		events:         events,
		authMiddleware: authMiddleware,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleWebSocket authenticates before upgrading, so a bad credential gets a
// plain 401 instead of a socket that closes straight away.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	identity, err := h.authMiddleware.Resolve(c, true)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("WebSocket: upgrade failed for %s: %v", identity.ParticipantID, err)
		return nil
	}

	h.events.Serve(conn, identity)
	return nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
