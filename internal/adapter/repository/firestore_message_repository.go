package repository

import (
	"context"
	stderrors "errors"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"carelink/internal/domain/entity"
	"carelink/internal/domain/repository"
	"carelink/pkg/errors"
)

const messagesCollection = "messages"

type firestoreMessageRepository struct {
	client *firestore.Client
	now    func() time.Time
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
		now:    time.Now,
	}
}

func (r *firestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection(conversationsCollection).Doc(conversationID).Collection(messagesCollection)
}

// Append runs in a transaction on the conversation document, so concurrent
// appends from other processes are serialized by Firestore as well. A status
// change to closed invalidates the read and the retry rejects the message.
func (r *firestoreMessageRepository) Append(ctx context.Context, msg *entity.Message) (*entity.Message, error) {
	convRef := r.client.Collection(conversationsCollection).Doc(msg.ConversationID)
	var stored *entity.Message

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored = nil

		if msg.ClientTempID != "" {
			query := r.messages(msg.ConversationID).
				Where("senderId", "==", msg.SenderID).
				Where("clientTempId", "==", msg.ClientTempID).
				Limit(1)
			docs, err := tx.Documents(query).GetAll()
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				var existing entity.Message
				if err := docs[0].DataTo(&existing); err != nil {
					return err
				}
				existing.ID = docs[0].Ref.ID
				stored = &existing
				return nil
			}
		}

		convDoc, err := tx.Get(convRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Conversation", err)
			}
			return err
		}
		var conv entity.Conversation
		if err := convDoc.DataTo(&conv); err != nil {
			return err
		}
		if !conv.IsOpen() && msg.Kind != entity.MessageSystem {
			return errors.FailedPrecondition("Conversation is closed", nil)
		}

		m := *msg
		m.ID = uuid.New().String()
		m.CreatedAt = entity.NextCreatedAt(r.now(), conv.LastMessageAt)

		if err := tx.Create(r.messages(m.ConversationID).Doc(m.ID), &m); err != nil {
			return err
		}
		if err := tx.Update(convRef, []firestore.Update{
			{Path: "lastMessageAt", Value: m.CreatedAt},
			{Path: "lastMessage", Value: m.Preview()},
		}); err != nil {
			return err
		}

		stored = &m
		return nil
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return nil, appErr
		}
		log.Printf("Firestore error while appending to %s: %v", msg.ConversationID, err)
		return nil, errors.Transient("Failed to store message", err)
	}
	return stored, nil
}

func (r *firestoreMessageRepository) ListSince(ctx context.Context, conversationID string, cursor time.Time, limit int) ([]*entity.Message, error) {
	query := r.messages(conversationID).OrderBy("createdAt", firestore.Asc)
	if !cursor.IsZero() {
		query = query.Where("createdAt", ">", cursor)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			log.Printf("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.Transient("Failed to list messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			log.Printf("Error parsing message %s in %s: %v", doc.Ref.ID, conversationID, err)
			continue
		}
		message.ID = doc.Ref.ID
		messages = append(messages, &message)
	}
	return messages, nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Transient("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	return &message, nil
}

// CountUnread filters the sender in memory; a second inequality would need a
// composite index per deployment.
func (r *firestoreMessageRepository) CountUnread(ctx context.Context, conversationID, reader string, since time.Time) (int, error) {
	query := r.messages(conversationID).Select("senderId")
	if !since.IsZero() {
		query = query.Where("createdAt", ">", since)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, errors.Transient("Failed to count unread messages", err)
		}
		if sender, _ := doc.Data()["senderId"].(string); sender != reader {
			count++
		}
	}
	return count, nil
}

func (r *firestoreMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	docs, err := r.messages(conversationID).OrderBy("createdAt", firestore.Desc).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Transient("Failed to get latest message", err)
	}
	if len(docs) == 0 {
		return nil, errors.NotFound("Message", nil)
	}

	var message entity.Message
	if err := docs[0].DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = docs[0].Ref.ID
	return &message, nil
}
