package middleware

import (
	"github.com/labstack/echo/v4"

	"carelink/internal/domain/entity"
	"carelink/pkg/errors"
	"carelink/pkg/response"
)

// AdminOnly must run after Authenticate.
func AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, ok := IdentityFrom(c)
		if !ok {
			return response.Error(c, errors.Unauthenticated("Authentication required", nil))
		}

		if identity.Role != entity.RoleAdmin {
			return response.Error(c, errors.Forbidden("Admin privileges required"))
		}

		return next(c)
	}
}
