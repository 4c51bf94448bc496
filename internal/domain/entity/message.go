package entity

import "time"

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Attachment is the descriptor returned by the blob uploader. The bytes never
// pass through the message store.
type Attachment struct {
	Name     string `json:"name" firestore:"name"`
	URL      string `json:"url" firestore:"url"`
	Size     int64  `json:"size" firestore:"size"`
	MimeType string `json:"mime_type" firestore:"mimeType"`
}

// Message is the shape carried by both the HTTP fallback and the realtime
// transport. Once ID is set the message is immutable.
type Message struct {
	ID             string      `json:"id,omitempty" firestore:"id"`
	ConversationID string      `json:"conversation_id" firestore:"conversationId"`
	SenderID       string      `json:"sender_id" firestore:"senderId"`
	SenderRole     string      `json:"sender_role" firestore:"senderRole"`
	Kind           MessageKind `json:"kind" firestore:"kind"`
	Body           string      `json:"body,omitempty" firestore:"body,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty" firestore:"attachment,omitempty"`
	ClientTempID   string      `json:"client_temp_id,omitempty" firestore:"clientTempId,omitempty"`
	CreatedAt      time.Time   `json:"created_at" firestore:"createdAt"`
}

// Preview is the text stored as the conversation's last message.
func (m *Message) Preview() string {
	if m.Kind == MessageFile && m.Attachment != nil {
		return "📎 " + m.Attachment.Name
	}
	const max = 140
	if r := []rune(m.Body); len(r) > max {
		return string(r[:max])
	}
	return m.Body
}

// NextCreatedAt returns the timestamp to assign to a message appended after
// last: now at microsecond resolution, bumped so timestamps within one
// conversation are strictly increasing.
func NextCreatedAt(now, last time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !t.After(last) {
		t = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}
