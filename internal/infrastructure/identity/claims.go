// Package identity resolves bearer credentials into caller identities.
// Three providers share one claim shape: Firebase ID tokens, locally signed
// HS256 tokens and tokens from an external issuer that publishes a JWKS.
package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

// RoleClaim is the custom claim carrying the participant role.
const RoleClaim = "role"

type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func validRole(role string) bool {
	switch role {
	case entity.RolePatient, entity.RoleDoctor, entity.RoleAdmin:
		return true
	}
	return false
}

// identityFromClaims builds the identity, asking the directory for the role
// when the token does not carry one.
func identityFromClaims(ctx context.Context, subject, role string, expiresAt time.Time, directory repository.ParticipantDirectory) (entity.Identity, error) {
	if subject == "" {
		return entity.Identity{}, errors.Unauthenticated("Token has no subject", nil)
	}

	if role == "" && directory != nil {
		participant, err := directory.GetParticipant(ctx, subject)
		if err != nil {
			return entity.Identity{}, errors.Unauthenticated("Unknown participant", err)
		}
		role = participant.Role
	}
	if !validRole(role) {
		return entity.Identity{}, errors.Unauthenticated("Token carries no usable role", nil)
	}

	return entity.Identity{
		ParticipantID: subject,
		Role:          role,
		ExpiresAt:     expiresAt.UTC(),
	}, nil
}

func parseWith(ctx context.Context, token string, keyFunc jwt.Keyfunc, methods []string, directory repository.ParticipantDirectory) (entity.Identity, error) {
	if token == "" {
		return entity.Identity{}, errors.Unauthenticated("Missing credential", nil)
	}

	parser := jwt.NewParser(jwt.WithValidMethods(methods))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, keyFunc)
	if err != nil {
		return entity.Identity{}, errors.Unauthenticated("Invalid or expired token", err)
	}
	if !parsed.Valid {
		return entity.Identity{}, errors.Unauthenticated("Invalid or expired token", nil)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return identityFromClaims(ctx, claims.Subject, claims.Role, expiresAt, directory)
}
