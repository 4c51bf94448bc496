package repository

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

type gormReadMarkerRepository struct {
	db *gorm.DB
}

func NewGormReadMarkerRepository(db *gorm.DB) repository.ReadMarkerRepository {
	return &gormReadMarkerRepository{db: db}
}

func (r *gormReadMarkerRepository) Get(ctx context.Context, conversationID, participantID string) (*entity.ReadMarker, error) {
	var rows []readMarkerRow
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND participant_id = ?", conversationID, participantID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Transient("Failed to read marker", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toEntity(), nil
}

func (r *gormReadMarkerRepository) Advance(ctx context.Context, marker *entity.ReadMarker) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []readMarkerRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ? AND participant_id = ?", marker.ConversationID, marker.ParticipantID).
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) > 0 && rows[0].LastReadUs >= toMicros(marker.LastReadAt) {
			return errors.AlreadyRead()
		}

		updatedAt := marker.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		row := &readMarkerRow{
			ConversationID:    marker.ConversationID,
			ParticipantID:     marker.ParticipantID,
			LastReadMessageID: marker.LastReadMessageID,
			LastReadUs:        toMicros(marker.LastReadAt),
			UpdatedAt:         updatedAt,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	})
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.Transient("Failed to advance read marker", err)
}
