package repository

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

type gormConversationRepository struct {
	db *gorm.DB
}

func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &gormConversationRepository{db: db}
}

func (r *gormConversationRepository) CreateIfAbsent(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, bool, error) {
	row := conversationToRow(conv)

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil && !stderrors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return nil, false, errors.Transient("Failed to create conversation", result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		return row.toEntity(), true, nil
	}

	stored, err := r.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *gormConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var row conversationRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, gormError("Conversation", err)
	}
	return row.toEntity(), nil
}

func (r *gormConversationRepository) ListByParticipant(ctx context.Context, participantID string) ([]*entity.Conversation, error) {
	var rows []conversationRow
	err := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", participantID, participantID).
		Order("last_message_us DESC").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Transient("Failed to list conversations", err)
	}

	conversations := make([]*entity.Conversation, 0, len(rows))
	for i := range rows {
		conversations = append(conversations, rows[i].toEntity())
	}
	return conversations, nil
}

func (r *gormConversationRepository) UpdateStatus(ctx context.Context, id string, status entity.ConversationStatus) error {
	result := r.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return errors.Transient("Failed to update conversation", result.Error)
	}
	if result.RowsAffected == 0 {
		_, err := r.GetByID(ctx, id)
		return err
	}
	return nil
}

func gormError(resource string, err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound(resource, err)
	}
	return errors.Transient("Failed to read "+resource, err)
}
