package chatclient

import (
	"context"

	"carelink/internal/domain/entity"
	"carelink/pkg/protocol"
)

// RealtimeConn is one established realtime session. Events is closed when
// the connection ends.
type RealtimeConn interface {
	Send(eventType, conversationID string, data interface{}) error
	Events() <-chan protocol.Envelope
	Close() error
}

// Dialer opens realtime sessions. Dial must give up when ctx is done.
type Dialer interface {
	Dial(ctx context.Context) (RealtimeConn, error)
}

// HistoryPage is one page of the fallback history endpoint.
type HistoryPage struct {
	Items      []*entity.Message `json:"items"`
	Count      int               `json:"count"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Fallback is the HTTP API the engine uses when the socket is down and for
// history.
type Fallback interface {
	OpenDirect(ctx context.Context, participantID string) (*entity.Conversation, error)
	OpenAppointment(ctx context.Context, appointmentID string) (*entity.Conversation, error)
	Conversation(ctx context.Context, conversationID string) (*entity.Conversation, error)
	History(ctx context.Context, conversationID, cursor string, limit int) (*HistoryPage, error)
	Append(ctx context.Context, conversationID string, req protocol.SendData) (*entity.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID string) (*entity.ReadMarker, error)
	UnreadSummary(ctx context.Context) (*entity.UnreadSummary, error)
}
