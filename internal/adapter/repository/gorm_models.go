package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"carelink/internal/domain/entity"
)

// SQL rows keep message and read timestamps as unix microseconds so ordering
// and cursor comparisons are exact on every driver.

type conversationRow struct {
	ID            string `gorm:"primaryKey;size:191"`
	Kind          string `gorm:"size:20;not null"`
	ParticipantA  string `gorm:"size:128;not null;index"`
	ParticipantB  string `gorm:"size:128;not null;index"`
	AppointmentID string `gorm:"size:128"`
	Status        string `gorm:"size:20;not null"`
	CreatedUs     int64  `gorm:"not null"`
	LastMessageUs int64  `gorm:"not null;index"`
	LastMessage   string `gorm:"size:512"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             string  `gorm:"primaryKey;size:36"`
	ConversationID string  `gorm:"size:191;not null;index:idx_messages_conversation_created,priority:1;uniqueIndex:idx_messages_client_temp,priority:1"`
	CreatedUs      int64   `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
	SenderID       string  `gorm:"size:128;not null;uniqueIndex:idx_messages_client_temp,priority:2"`
	ClientTempID   *string `gorm:"size:64;uniqueIndex:idx_messages_client_temp,priority:3"`
	SenderRole     string  `gorm:"size:20"`
	Kind           string  `gorm:"size:20;not null"`
	Body           string  `gorm:"type:text"`
	AttachmentName string  `gorm:"size:255"`
	AttachmentURL  string  `gorm:"size:1024"`
	AttachmentSize int64
	AttachmentMime string `gorm:"size:128"`
}

func (messageRow) TableName() string { return "messages" }

type readMarkerRow struct {
	ConversationID    string `gorm:"primaryKey;size:191"`
	ParticipantID     string `gorm:"primaryKey;size:128"`
	LastReadMessageID string `gorm:"size:36;not null"`
	LastReadUs        int64  `gorm:"not null"`
	UpdatedAt         time.Time
}

func (readMarkerRow) TableName() string { return "read_markers" }

type participantRow struct {
	ID          string `gorm:"primaryKey;size:128"`
	DisplayName string `gorm:"size:255"`
	Role        string `gorm:"size:20;not null"`
}

func (participantRow) TableName() string { return "participants" }

type appointmentRow struct {
	ID        string `gorm:"primaryKey;size:128"`
	PatientID string `gorm:"size:128;not null"`
	DoctorID  string `gorm:"size:128;not null"`
}

func (appointmentRow) TableName() string { return "appointments" }

// AllModels lists every table the SQL store owns.
func AllModels() []interface{} {
	return []interface{}{
		&conversationRow{},
		&messageRow{},
		&readMarkerRow{},
		&participantRow{},
		&appointmentRow{},
	}
}

// AutoMigrate creates or updates the SQL store's tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("repository: auto-migrate: %w", err)
	}
	return nil
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func conversationToRow(c *entity.Conversation) *conversationRow {
	return &conversationRow{
		ID:            c.ID,
		Kind:          string(c.Kind),
		ParticipantA:  c.ParticipantA,
		ParticipantB:  c.ParticipantB,
		AppointmentID: c.AppointmentID,
		Status:        string(c.Status),
		CreatedUs:     toMicros(c.CreatedAt),
		LastMessageUs: toMicros(c.LastMessageAt),
		LastMessage:   c.LastMessage,
	}
}

func (r *conversationRow) toEntity() *entity.Conversation {
	return &entity.Conversation{
		ID:            r.ID,
		Kind:          entity.ConversationKind(r.Kind),
		ParticipantA:  r.ParticipantA,
		ParticipantB:  r.ParticipantB,
		Participants:  []string{r.ParticipantA, r.ParticipantB},
		AppointmentID: r.AppointmentID,
		Status:        entity.ConversationStatus(r.Status),
		CreatedAt:     fromMicros(r.CreatedUs),
		LastMessageAt: fromMicros(r.LastMessageUs),
		LastMessage:   r.LastMessage,
	}
}

func messageToRow(m *entity.Message) *messageRow {
	row := &messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		CreatedUs:      toMicros(m.CreatedAt),
		SenderID:       m.SenderID,
		SenderRole:     m.SenderRole,
		Kind:           string(m.Kind),
		Body:           m.Body,
	}
	if m.ClientTempID != "" {
		tempID := m.ClientTempID
		row.ClientTempID = &tempID
	}
	if a := m.Attachment; a != nil {
		row.AttachmentName = a.Name
		row.AttachmentURL = a.URL
		row.AttachmentSize = a.Size
		row.AttachmentMime = a.MimeType
	}
	return row
}

func (r *messageRow) toEntity() *entity.Message {
	m := &entity.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		SenderRole:     r.SenderRole,
		Kind:           entity.MessageKind(r.Kind),
		Body:           r.Body,
		CreatedAt:      fromMicros(r.CreatedUs),
	}
	if r.ClientTempID != nil {
		m.ClientTempID = *r.ClientTempID
	}
	if r.AttachmentURL != "" {
		m.Attachment = &entity.Attachment{
			Name:     r.AttachmentName,
			URL:      r.AttachmentURL,
			Size:     r.AttachmentSize,
			MimeType: r.AttachmentMime,
		}
	}
	return m
}

func (r *readMarkerRow) toEntity() *entity.ReadMarker {
	return &entity.ReadMarker{
		ConversationID:    r.ConversationID,
		ParticipantID:     r.ParticipantID,
		LastReadMessageID: r.LastReadMessageID,
		LastReadAt:        fromMicros(r.LastReadUs),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}
