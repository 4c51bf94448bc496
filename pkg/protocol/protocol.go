// Package protocol defines the realtime wire format shared by the server hub
// and the client engine. Messages use the same JSON shape as the HTTP API.
package protocol

import (
	"encoding/json"
	"time"

	"carelink/internal/domain/entity"
)

// Client to server.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSend        = "send"
	TypeTypingStart = "typingStart"
	TypeTypingStop  = "typingStop"
	TypeMarkRead    = "markRead"
	TypePing        = "ping"
)

// Server to client.
const (
	TypeJoined              = "joined"
	TypeMessageAppended     = "messageAppended"
	TypeTypingChanged       = "typingChanged"
	TypeReadAdvanced        = "readAdvanced"
	TypeSendFailed          = "sendFailed"
	TypePresenceChanged     = "presenceChanged"
	TypeConversationUpdated = "conversationUpdated"
	TypeError               = "error"
	TypePong                = "pong"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

type SendData struct {
	ClientTempID string             `json:"client_temp_id"`
	Kind         entity.MessageKind `json:"kind,omitempty"`
	Body         string             `json:"body"`
}

type MarkReadData struct {
	MessageID string `json:"message_id,omitempty"`
}

type JoinedData struct {
	Conversation *entity.Conversation `json:"conversation"`
	Typing       []string             `json:"typing"`
	// Online lists participants of the conversation with at least one open
	// session.
	Online []string `json:"online,omitempty"`
}

type MessageAppendedData struct {
	Message *entity.Message `json:"message"`
}

type TypingChangedData struct {
	ParticipantID string `json:"participant_id"`
	Typing        bool   `json:"typing"`
}

type ReadAdvancedData struct {
	ParticipantID     string    `json:"participant_id"`
	LastReadMessageID string    `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}

type SendFailedData struct {
	ClientTempID string `json:"client_temp_id"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

type PresenceChangedData struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
}

type ConversationUpdatedData struct {
	Conversation *entity.Conversation `json:"conversation"`
	LastMessage  *entity.Message      `json:"last_message,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New builds an envelope with data marshalled into it. A nil data leaves the
// payload empty.
func New(eventType, conversationID string, data interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return env, nil
}

// Encode is New followed by marshalling the envelope itself.
func Encode(eventType, conversationID string, data interface{}) ([]byte, error) {
	env, err := New(eventType, conversationID, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeData unmarshals the payload into v. An empty payload leaves v as is.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
