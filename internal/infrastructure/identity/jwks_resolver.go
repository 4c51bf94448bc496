package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/logger"
)

// JWKSResolver verifies RS256/ES256 tokens from an external issuer whose
// signing keys are published as a JWKS. Keys refresh in the background.
type JWKSResolver struct {
	jwks      *keyfunc.JWKS
	directory repository.ParticipantDirectory
}

func NewJWKSResolver(jwksURL string, directory repository.ParticipantDirectory) (*JWKSResolver, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error("Identity: JWKS refresh from %s failed: %v", jwksURL, err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("identity: fetch JWKS: %w", err)
	}
	return &JWKSResolver{jwks: jwks, directory: directory}, nil
}

func (r *JWKSResolver) Resolve(ctx context.Context, token string) (entity.Identity, error) {
	return parseWith(ctx, token, r.jwks.Keyfunc, []string{"RS256", "ES256"}, r.directory)
}

// Close stops the background refresh.
func (r *JWKSResolver) Close() {
	r.jwks.EndBackground()
}
