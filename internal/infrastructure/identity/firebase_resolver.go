package identity

import (
	"context"
	"time"

	"firebase.google.com/go/v4/auth"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

type FirebaseResolver struct {
	client    *auth.Client
	directory repository.ParticipantDirectory
}

func NewFirebaseResolver(client *auth.Client, directory repository.ParticipantDirectory) *FirebaseResolver {
	return &FirebaseResolver{
		client:    client,
		directory: directory,
	}
}

// Resolve verifies a Firebase ID token. The role comes from the "role"
// custom claim, or from the user record when the claim is not set.
func (f *FirebaseResolver) Resolve(ctx context.Context, token string) (entity.Identity, error) {
	if token == "" {
		return entity.Identity{}, errors.Unauthenticated("Missing credential", nil)
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return entity.Identity{}, errors.Unauthenticated("Invalid or expired token", err)
	}

	role, _ := result.Claims[RoleClaim].(string)
	return identityFromClaims(ctx, result.UID, role, time.Unix(result.Expires, 0), f.directory)
}
