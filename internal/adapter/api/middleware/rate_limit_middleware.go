package middleware

import (
	"log"

	"github.com/labstack/echo/v4"

	"carelink/internal/infrastructure/ratelimit"
	"carelink/pkg/errors"
	"carelink/pkg/response"
)

// RateLimit throttles requests per caller, falling back to the client IP on
// routes without an identity.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if identity, ok := IdentityFrom(c); ok {
				key = identity.ParticipantID
			}

			if !limiter.Allow(key, ratelimit.ActionHTTP) {
				log.Printf("RATE LIMIT: blocked request from %s to %s", key, c.Path())
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}

			return next(c)
		}
	}
}
