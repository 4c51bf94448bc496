package repository

import (
	"context"

	"carelink/internal/domain/entity"
)

// ParticipantDirectory is the read-only view of the portal's user and
// appointment records.
type ParticipantDirectory interface {
	GetParticipant(ctx context.Context, id string) (*entity.Participant, error)
	GetAppointment(ctx context.Context, id string) (*entity.Appointment, error)
}
