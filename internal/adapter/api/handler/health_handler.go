package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger func() error

type HealthHandler struct {
	store    Pinger
	sessions func() int
}

var healthHandler *HealthHandler

func NewHealthHandler(store Pinger, sessions func() int) *HealthHandler {
	return &HealthHandler{
		store:    store,
		sessions: sessions,
	}
}

func SetupHealthHandler(store Pinger, sessions func() int) {
	healthHandler = NewHealthHandler(store, sessions)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions()
	}

	if h.store != nil {
		if err := h.store(); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}

	return c.JSON(http.StatusOK, body)
}
