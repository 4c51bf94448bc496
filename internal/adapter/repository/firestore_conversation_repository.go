package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

const conversationsCollection = "conversations"

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

// CreateIfAbsent relies on Create failing with AlreadyExists for a document
// that is already there; the deterministic id makes that the uniqueness check.
func (r *firestoreConversationRepository) CreateIfAbsent(ctx context.Context, conv *entity.Conversation) (*entity.Conversation, bool, error) {
	_, err := r.client.Collection(conversationsCollection).Doc(conv.ID).Create(ctx, conv)
	if err == nil {
		return conv, true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return nil, false, errors.Transient("Failed to create conversation", err)
	}

	stored, err := r.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Transient("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID
	return &conv, nil
}

func (r *firestoreConversationRepository) ListByParticipant(ctx context.Context, participantID string) ([]*entity.Conversation, error) {
	iter := r.client.Collection(conversationsCollection).
		Where("participants", "array-contains", participantID).
		OrderBy("lastMessageAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var conversations []*entity.Conversation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			log.Printf("Firestore error while listing conversations for %s: %v", participantID, err)
			return nil, errors.Transient("Failed to list conversations", err)
		}

		var conv entity.Conversation
		if err := doc.DataTo(&conv); err != nil {
			log.Printf("Error parsing conversation %s: %v", doc.Ref.ID, err)
			continue
		}
		conv.ID = doc.Ref.ID
		conversations = append(conversations, &conv)
	}
	return conversations, nil
}

func (r *firestoreConversationRepository) UpdateStatus(ctx context.Context, id string, convStatus entity.ConversationStatus) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(convStatus)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Transient("Failed to update conversation", err)
	}
	return nil
}
