package repository

import (
	"context"
	"time"

	"carelink/internal/domain/entity"
)

type MessageRepository interface {
	// Append assigns ID and CreatedAt and advances the conversation's
	// activity key in one atomic step. If msg carries a ClientTempID already
	// stored for the same sender in the same conversation, the stored
	// message is returned and nothing is written. Only system messages are
	// accepted once the conversation is closed.
	Append(ctx context.Context, msg *entity.Message) (*entity.Message, error)
	// ListSince returns messages with CreatedAt strictly after cursor in
	// ascending order.
	ListSince(ctx context.Context, conversationID string, cursor time.Time, limit int) ([]*entity.Message, error)
	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)
	// CountUnread counts messages after since that were not sent by reader.
	CountUnread(ctx context.Context, conversationID, reader string, since time.Time) (int, error)
	// Latest returns the newest message or a NOT_FOUND error when empty.
	Latest(ctx context.Context, conversationID string) (*entity.Message, error)
}
