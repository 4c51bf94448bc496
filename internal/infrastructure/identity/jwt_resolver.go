package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
)

const issuer = "carelink"

// JWTResolver verifies HS256 tokens signed with a shared secret. It also
// issues them, which local development and the CLI client rely on.
type JWTResolver struct {
	secret    []byte
	expiry    time.Duration
	directory repository.ParticipantDirectory
	now       func() time.Time
}

// NewJWTResolver builds a resolver for secret. A nil directory means tokens
// must carry the role claim.
func NewJWTResolver(secret string, expiry time.Duration, directory repository.ParticipantDirectory) *JWTResolver {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTResolver{
		secret:    []byte(secret),
		expiry:    expiry,
		directory: directory,
		now:       time.Now,
	}
}

func (r *JWTResolver) Resolve(ctx context.Context, token string) (entity.Identity, error) {
	return parseWith(ctx, token, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, []string{jwt.SigningMethodHS256.Alg()}, r.directory)
}

// Issue signs a token for participantID with the configured expiry.
func (r *JWTResolver) Issue(participantID, role string) (string, error) {
	if participantID == "" {
		return "", fmt.Errorf("identity: participant id is required")
	}
	now := r.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
