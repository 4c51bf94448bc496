package repository

import (
	"context"
	stderrors "errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

type firestoreReadMarkerRepository struct {
	client *firestore.Client
}

func NewFirestoreReadMarkerRepository(client *firestore.Client) repository.ReadMarkerRepository {
	return &firestoreReadMarkerRepository{
		client: client,
	}
}

func (r *firestoreReadMarkerRepository) ref(conversationID, participantID string) *firestore.DocumentRef {
	return r.client.Collection(conversationsCollection).Doc(conversationID).Collection("readMarkers").Doc(participantID)
}

func (r *firestoreReadMarkerRepository) Get(ctx context.Context, conversationID, participantID string) (*entity.ReadMarker, error) {
	doc, err := r.ref(conversationID, participantID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, errors.Transient("Failed to get read marker", err)
	}

	var marker entity.ReadMarker
	if err := doc.DataTo(&marker); err != nil {
		return nil, errors.Internal("Failed to parse read marker", err)
	}
	return &marker, nil
}

func (r *firestoreReadMarkerRepository) Advance(ctx context.Context, marker *entity.ReadMarker) error {
	ref := r.ref(marker.ConversationID, marker.ParticipantID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var current entity.ReadMarker
			if err := doc.DataTo(&current); err != nil {
				return err
			}
			if current.Covers(marker.LastReadAt) {
				return errors.AlreadyRead()
			}
		}
		return tx.Set(ref, marker)
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return appErr
		}
		return errors.Transient("Failed to advance read marker", err)
	}
	return nil
}
