package usecase

import (
	"context"

	"carelink/internal/domain/entity"
)

// Broadcaster fans events out to realtime sessions. Implementations must not
// block on slow consumers.
type Broadcaster interface {
	// PublishMessage is called while the conversation's append lock is held,
	// so calls for one conversation arrive in append order.
	PublishMessage(conv *entity.Conversation, msg *entity.Message)
	PublishReadAdvanced(conv *entity.Conversation, marker *entity.ReadMarker, originSessionID string)
	PublishTyping(conversationID, participantID string, typing bool)
	PublishConversationUpdated(conv *entity.Conversation)
}

// SystemPoster appends server-authored messages, e.g. when an appointment
// conversation opens or a conversation is closed.
type SystemPoster interface {
	AppendSystem(ctx context.Context, conversationID, body string) (*entity.Message, error)
}

// NopBroadcaster drops every event. Used when no realtime transport runs,
// e.g. in batch tools and tests that only exercise storage.
type NopBroadcaster struct{}

func (NopBroadcaster) PublishMessage(*entity.Conversation, *entity.Message)               {}
func (NopBroadcaster) PublishReadAdvanced(*entity.Conversation, *entity.ReadMarker, string) {}
func (NopBroadcaster) PublishTyping(string, string, bool)                                  {}
func (NopBroadcaster) PublishConversationUpdated(*entity.Conversation)                     {}
