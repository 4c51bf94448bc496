package entity

import "time"

type ReadMarker struct {
	ConversationID    string    `json:"conversation_id" firestore:"conversationId"`
	ParticipantID     string    `json:"participant_id" firestore:"participantId"`
	LastReadMessageID string    `json:"last_read_message_id" firestore:"lastReadMessageId"`
	LastReadAt        time.Time `json:"last_read_at" firestore:"lastReadAt"`
	UpdatedAt         time.Time `json:"updated_at" firestore:"updatedAt"`
}

// Covers reports whether the marker is already at or past t.
func (m *ReadMarker) Covers(t time.Time) bool {
	return m != nil && !m.LastReadAt.Before(t)
}

type UnreadSummary struct {
	Total          int            `json:"total"`
	ByConversation map[string]int `json:"by_conversation"`
}
