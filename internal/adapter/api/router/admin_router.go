package router

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/adapter/api/handler"
	"carelink/internal/adapter/api/middleware"
)

func SetupAdminRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, adminHandler *handler.AdminHandler) {
	admin := e.Group("/v1/admin")
	admin.Use(authMiddleware.Authenticate)
	admin.Use(middleware.AdminOnly)

	admin.GET("/presence", adminHandler.Presence)
}
