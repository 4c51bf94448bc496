package repository

import (
	"context"

	"carelink/internal/domain/entity"
)

type ConversationRepository interface {
	// CreateIfAbsent atomically inserts conv unless a conversation with the
	// same ID exists. It returns the stored conversation and whether this
	// call created it. Losing a creation race is not an error.
	CreateIfAbsent(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, bool, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// ListByParticipant orders by most recent message activity first.
	ListByParticipant(ctx context.Context, participantID string) ([]*entity.Conversation, error)
	UpdateStatus(ctx context.Context, id string, status entity.ConversationStatus) error
}
