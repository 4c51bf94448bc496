package handler

import (
	"github.com/labstack/echo/v4"

	"carelink/pkg/response"
)

// RealtimeStats is implemented by the websocket hub.
type RealtimeStats interface {
	SessionCount() int
	Online(participantIDs ...string) []string
}

type AdminHandler struct {
	realtime RealtimeStats
}

func NewAdminHandler(realtime RealtimeStats) *AdminHandler {
	return &AdminHandler{realtime: realtime}
}

// Presence reports the open session count and which of ?participant= are
// online.
func (h *AdminHandler) Presence(c echo.Context) error {
	participants := c.QueryParams()["participant"]

	return response.Success(c, map[string]interface{}{
		"sessions": h.realtime.SessionCount(),
		"online":   h.realtime.Online(participants...),
	})
}
