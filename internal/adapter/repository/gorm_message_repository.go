package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

type gormMessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &gormMessageRepository{db: db, now: time.Now}
}

func (r *gormMessageRepository) Append(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	var stored *entity.Message

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing, err := r.findByClientTempID(tx, msg); err != nil || existing != nil {
			stored = existing
			return err
		}

		var conv conversationRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return gormError("Conversation", err)
		}
		if conv.Status == string(entity.ConversationClosed) && msg.Kind != entity.MessageSystem {
			return errors.FailedPrecondition("Conversation is closed", nil)
		}

		m := *msg
		m.ID = uuid.New().String()
		m.CreatedAt = entity.NextCreatedAt(r.now(), fromMicros(conv.LastMessageUs))

		row := messageToRow(&m)
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		err := tx.Model(&conversationRow{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
			"last_message_us": row.CreatedUs,
			"last_message":    m.Preview(),
		}).Error
		if err != nil {
			return err
		}

		stored = &m
		return nil
	})
	if err == nil {
		return stored, nil
	}

	// A concurrent retry of the same send won the unique index.
	if stderrors.Is(err, gorm.ErrDuplicatedKey) && msg.ClientTempID != "" {
		if existing, findErr := r.findByClientTempID(r.db.WithContext(ctx), msg); findErr == nil && existing != nil {
			return existing, nil
		}
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return nil, appErr
	}
	return nil, errors.Transient("Failed to store message", err)
}

func (r *gormMessageRepository) findByClientTempID(tx *gorm.DB, msg *entity.Message) (*entity.Message, error) {
	if msg.ClientTempID == "" {
		return nil, nil
	}

	var rows []messageRow
	err := tx.Where("conversation_id = ? AND sender_id = ? AND client_temp_id = ?", msg.ConversationID, msg.SenderID, msg.ClientTempID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toEntity(), nil
}

func (r *gormMessageRepository) ListSince(ctx context.Context, conversationID string, cursor time.Time, limit int) ([]*entity.Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_us > ?", conversationID, toMicros(cursor)).
		Order("created_us ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Transient("Failed to list messages", err)
	}

	messages := make([]*entity.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toEntity())
	}
	return messages, nil
}

func (r *gormMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	var row messageRow
	err := r.db.WithContext(ctx).First(&row, "id = ? AND conversation_id = ?", messageID, conversationID).Error
	if err != nil {
		return nil, gormError("Message", err)
	}
	return row.toEntity(), nil
}

func (r *gormMessageRepository) CountUnread(ctx context.Context, conversationID, reader string, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageRow{}).
		Where("conversation_id = ? AND created_us > ? AND sender_id <> ?", conversationID, toMicros(since), reader).
		Count(&count).Error
	if err != nil {
		return 0, errors.Transient("Failed to count unread messages", err)
	}
	return int(count), nil
}

func (r *gormMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	var row messageRow
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_us DESC").
		First(&row).Error
	if err != nil {
		return nil, gormError("Message", err)
	}
	return row.toEntity(), nil
}
