package service

import (
	"context"

	"carelink/internal/domain/entity"
)

// IdentityResolver turns an opaque bearer credential into a caller identity.
// Implementations return an UNAUTHENTICATED AppError for bad or expired
// credentials.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (entity.Identity, error)
}
