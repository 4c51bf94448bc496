package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

// userDoc is the subset of the portal's users documents the directory reads.
type userDoc struct {
	ID       string `firestore:"id"`
	Username string `firestore:"username"`
	FullName string `firestore:"fullName,omitempty"`
	Role     string `firestore:"role"`
}

type firestoreDirectory struct {
	client *firestore.Client
}

func NewFirestoreDirectory(client *firestore.Client) repository.ParticipantDirectory {
	return &firestoreDirectory{
		client: client,
	}
}

func (d *firestoreDirectory) GetParticipant(ctx context.Context, id string) (*entity.Participant, error) {
	doc, err := d.client.Collection("users").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Participant", err)
		}
		return nil, errors.Transient("Failed to get participant", err)
	}

	var user userDoc
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse participant data", err)
	}

	name := user.FullName
	if name == "" {
		name = user.Username
	}
	return &entity.Participant{ID: doc.Ref.ID, DisplayName: name, Role: user.Role}, nil
}

func (d *firestoreDirectory) GetAppointment(ctx context.Context, id string) (*entity.Appointment, error) {
	doc, err := d.client.Collection("appointments").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Appointment", err)
		}
		return nil, errors.Transient("Failed to get appointment", err)
	}

	var appt entity.Appointment
	if err := doc.DataTo(&appt); err != nil {
		return nil, errors.Internal("Failed to parse appointment data", err)
	}
	appt.ID = doc.Ref.ID
	return &appt, nil
}
