package repository

import (
	"context"

	"carelink/internal/domain/entity"
)

type ReadMarkerRepository interface {
	// Get returns nil without error when the participant has never read the
	// conversation.
	Get(ctx context.Context, conversationID, participantID string) (*entity.ReadMarker, error)
	// Advance stores marker only if it moves strictly forward. A stale marker
	// yields a CONFLICT_ALREADY_READ error.
	Advance(ctx context.Context, marker *entity.ReadMarker) error
}
