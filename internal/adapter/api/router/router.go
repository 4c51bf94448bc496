package router

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/adapter/api/middleware"
	"carelink/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupConversationRouter(e, authMiddleware, limiter)
	SetupHealthRouter(e)
}
