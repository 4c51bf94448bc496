package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/service"
	"carelink/pkg/errors"
	"carelink/pkg/response"
)

const identityKey = "identity"

type AuthMiddleware struct {
	resolver service.IdentityResolver
}

func NewAuthMiddleware(resolver service.IdentityResolver) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
	}
}

// Authenticate resolves the bearer credential and stores the identity on the
// request context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := BearerToken(c.Request(), false)
		if err != nil {
			return response.Error(c, err)
		}

		identity, err := m.resolver.Resolve(c.Request().Context(), token)
		if err != nil {
			return response.Error(c, err)
		}

		SetIdentity(c, identity)
		return next(c)
	}
}

// Resolve exposes the resolver for routes that authenticate themselves, such
// as the websocket upgrade.
func (m *AuthMiddleware) Resolve(c echo.Context, allowQuery bool) (entity.Identity, error) {
	token, err := BearerToken(c.Request(), allowQuery)
	if err != nil {
		return entity.Identity{}, err
	}
	return m.resolver.Resolve(c.Request().Context(), token)
}

// BearerToken reads "Authorization: Bearer <token>". With allowQuery a
// ?token= parameter is accepted as well, since browsers cannot set headers
// on websocket upgrades.
func BearerToken(r *http.Request, allowQuery bool) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if token := r.URL.Query().Get("token"); token != "" {
				return token, nil
			}
		}
		return "", errors.Unauthenticated("Authorization header is required", nil)
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.Unauthenticated("Invalid authorization format", nil)
	}
	return parts[1], nil
}

func SetIdentity(c echo.Context, identity entity.Identity) {
	c.Set(identityKey, identity)
	c.Set("uid", identity.ParticipantID)
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c echo.Context) (entity.Identity, bool) {
	identity, ok := c.Get(identityKey).(entity.Identity)
	return identity, ok && identity.ParticipantID != ""
}
