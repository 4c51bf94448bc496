package entity

import (
	"sort"
	"strings"
	"time"
)

type ConversationKind string

const (
	ConversationAppointment ConversationKind = "appointment"
	ConversationDirect      ConversationKind = "direct"
)

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

type Conversation struct {
	ID            string             `json:"id" firestore:"id"`
	Kind          ConversationKind   `json:"kind" firestore:"kind"`
	ParticipantA  string             `json:"participant_a" firestore:"participantA"`
	ParticipantB  string             `json:"participant_b" firestore:"participantB"`
	Participants  []string           `json:"-" firestore:"participants"` // for array-contains queries
	AppointmentID string             `json:"appointment_id,omitempty" firestore:"appointmentId,omitempty"`
	Status        ConversationStatus `json:"status" firestore:"status"`
	CreatedAt     time.Time          `json:"created_at" firestore:"createdAt"`
	LastMessageAt time.Time          `json:"last_message_at" firestore:"lastMessageAt"`
	LastMessage   string             `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
}

func (c *Conversation) HasParticipant(participantID string) bool {
	return participantID != "" && (c.ParticipantA == participantID || c.ParticipantB == participantID)
}

// Counterpart returns the other participant, or "" if participantID is not in
// the conversation.
func (c *Conversation) Counterpart(participantID string) string {
	switch participantID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

func (c *Conversation) IsOpen() bool {
	return c.Status != ConversationClosed
}

// DirectConversationID is the stable key of the direct conversation between
// two participants, independent of argument order.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct_" + strings.Join(pair, "_")
}

func AppointmentConversationID(appointmentID string) string {
	return "appt_" + appointmentID
}

// NewDirectConversation builds an unsaved direct conversation with the pair
// stored in canonical order.
func NewDirectConversation(a, b string, now time.Time) *Conversation {
	pair := []string{a, b}
	sort.Strings(pair)
	return &Conversation{
		ID:            DirectConversationID(a, b),
		Kind:          ConversationDirect,
		ParticipantA:  pair[0],
		ParticipantB:  pair[1],
		Participants:  pair,
		Status:        ConversationActive,
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

func NewAppointmentConversation(appt *Appointment, now time.Time) *Conversation {
	return &Conversation{
		ID:            AppointmentConversationID(appt.ID),
		Kind:          ConversationAppointment,
		ParticipantA:  appt.PatientID,
		ParticipantB:  appt.DoctorID,
		Participants:  []string{appt.PatientID, appt.DoctorID},
		AppointmentID: appt.ID,
		Status:        ConversationActive,
		CreatedAt:     now,
		LastMessageAt: now,
	}
}
