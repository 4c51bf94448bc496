package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"carelink/internal/domain/entity"
	"carelink/internal/usecase"
	"carelink/pkg/errors"
	"carelink/pkg/logger"
	"carelink/pkg/protocol"
)

const eventTimeout = 10 * time.Second

// EventHandler routes client frames to the usecases and answers on the
// originating session.
type EventHandler struct {
	hub           *Hub
	conversations *usecase.ConversationUseCase
	messages      *usecase.MessageUseCase
	reads         *usecase.ReadStateUseCase
	presence      *usecase.PresenceUseCase
	now           func() time.Time
}

func NewEventHandler(
	hub *Hub,
	conversations *usecase.ConversationUseCase,
	messages *usecase.MessageUseCase,
	reads *usecase.ReadStateUseCase,
	presence *usecase.PresenceUseCase,
) *EventHandler {
	h := &EventHandler{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		presence:      presence,
		now:           time.Now,
	}
	hub.OnOffline = presence.ParticipantOffline
	return h
}

// Serve registers an authenticated connection and blocks until it closes.
func (h *EventHandler) Serve(conn *websocket.Conn, identity entity.Identity) {
	s := NewSession(uuid.New().String(), identity, conn)
	if !h.hub.Attach(s) {
		conn.Close()
		return
	}

	go s.WritePump()
	s.ReadPump(h.Handle)

	h.hub.Detach(s)
	s.Close()
}

// Handle processes one client frame.
func (h *EventHandler) Handle(s *Session, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(s, "", errors.BadRequest("Invalid message format", err))
		return
	}

	if s.Identity.Expired(h.now()) {
		h.sendError(s, "", errors.Unauthenticated("Credential expired", nil))
		s.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	logger.Debug("WebSocket: %s from session %s (%s)", env.Type, s.ID, s.Identity.ParticipantID)

	switch env.Type {
	case protocol.TypePing:
		h.hub.SendTo(s, protocol.TypePong, "", nil)

	case protocol.TypeJoin:
		h.handleJoin(ctx, s, env)

	case protocol.TypeLeave:
		h.hub.Unsubscribe(s, env.ConversationID)
		h.presence.StopTyping(env.ConversationID, s.Identity.ParticipantID)

	case protocol.TypeSend:
		h.handleSend(ctx, s, env)

	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		h.handleTyping(s, env)

	case protocol.TypeMarkRead:
		h.handleMarkRead(ctx, s, env)

	default:
		log.Printf("WebSocket: unknown event type '%s' from session %s", env.Type, s.ID)
		h.sendError(s, env.ConversationID, errors.BadRequest("Unknown event type "+env.Type, nil))
	}
}

func (h *EventHandler) handleJoin(ctx context.Context, s *Session, env protocol.Envelope) {
	conv, err := h.conversations.GetConversation(ctx, s.Identity, env.ConversationID)
	if err != nil {
		h.sendError(s, env.ConversationID, err)
		return
	}

	h.hub.Subscribe(s, conv)
	h.hub.SendTo(s, protocol.TypeJoined, conv.ID, protocol.JoinedData{
		Conversation: conv,
		Typing:       h.presence.TypingIn(conv.ID),
		Online:       h.hub.Online(conv.ParticipantA, conv.ParticipantB),
	})
}

func (h *EventHandler) handleSend(ctx context.Context, s *Session, env protocol.Envelope) {
	var data protocol.SendData
	if err := env.DecodeData(&data); err != nil {
		h.sendError(s, env.ConversationID, errors.BadRequest("Invalid send payload", err))
		return
	}

	if !s.IsSubscribed(env.ConversationID) {
		h.sendFailed(s, env.ConversationID, data.ClientTempID, errors.FailedPrecondition("Join the conversation before sending", nil))
		return
	}

	_, err := h.messages.Append(ctx, s.Identity, usecase.AppendInput{
		ConversationID: env.ConversationID,
		ClientTempID:   data.ClientTempID,
		Kind:           data.Kind,
		Body:           data.Body,
	})
	if err != nil {
		h.sendFailed(s, env.ConversationID, data.ClientTempID, err)
		return
	}
	h.presence.MessageSent(env.ConversationID, s.Identity.ParticipantID)
}

func (h *EventHandler) handleTyping(s *Session, env protocol.Envelope) {
	if !s.IsSubscribed(env.ConversationID) {
		h.sendError(s, env.ConversationID, errors.FailedPrecondition("Join the conversation first", nil))
		return
	}

	if env.Type == protocol.TypeTypingStop {
		h.presence.StopTyping(env.ConversationID, s.Identity.ParticipantID)
		return
	}
	// Over-eager typists are throttled silently.
	_ = h.presence.StartTyping(env.ConversationID, s.Identity.ParticipantID)
}

func (h *EventHandler) handleMarkRead(ctx context.Context, s *Session, env protocol.Envelope) {
	var data protocol.MarkReadData
	if err := env.DecodeData(&data); err != nil {
		h.sendError(s, env.ConversationID, errors.BadRequest("Invalid markRead payload", err))
		return
	}
	if !s.IsSubscribed(env.ConversationID) {
		h.sendError(s, env.ConversationID, errors.FailedPrecondition("Join the conversation first", nil))
		return
	}

	if _, _, err := h.reads.MarkRead(ctx, s.Identity, env.ConversationID, data.MessageID, s.ID); err != nil {
		h.sendError(s, env.ConversationID, err)
	}
}

func (h *EventHandler) sendFailed(s *Session, conversationID, clientTempID string, err error) {
	logger.LogSendFailure(conversationID, clientTempID, err)

	h.hub.SendTo(s, protocol.TypeSendFailed, conversationID, protocol.SendFailedData{
		ClientTempID: clientTempID,
		Code:         errors.CodeOf(err),
		Message:      errorMessage(err),
	})
}

func (h *EventHandler) sendError(s *Session, conversationID string, err error) {
	h.hub.SendTo(s, protocol.TypeError, conversationID, protocol.ErrorData{
		Code:    errors.CodeOf(err),
		Message: errorMessage(err),
	})
}

func errorMessage(err error) string {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.Message
	}
	return "Internal server error"
}
