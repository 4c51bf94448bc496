package chatclient

import (
	"sort"
	"time"
)

// DefaultTypingExpiry is how long a typing signal lasts without renewal.
const DefaultTypingExpiry = time.Second

// TypingTracker holds the last typing signal per participant and
// conversation. Entries expire lazily on read.
type TypingTracker struct {
	expiry  time.Duration
	signals map[string]map[string]time.Time
}

func NewTypingTracker(expiry time.Duration) *TypingTracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingTracker{
		expiry:  expiry,
		signals: make(map[string]map[string]time.Time),
	}
}

// Apply records a typingChanged signal received at now.
func (t *TypingTracker) Apply(conversationID, participantID string, typing bool, now time.Time) {
	if !typing {
		t.Clear(conversationID, participantID)
		return
	}

	byParticipant, ok := t.signals[conversationID]
	if !ok {
		byParticipant = make(map[string]time.Time)
		t.signals[conversationID] = byParticipant
	}
	byParticipant[participantID] = now
}

func (t *TypingTracker) Clear(conversationID, participantID string) {
	byParticipant, ok := t.signals[conversationID]
	if !ok {
		return
	}
	delete(byParticipant, participantID)
	if len(byParticipant) == 0 {
		delete(t.signals, conversationID)
	}
}

// Typing returns the participants still typing at now, sorted.
func (t *TypingTracker) Typing(conversationID string, now time.Time) []string {
	byParticipant := t.signals[conversationID]

	var typing []string
	for participantID, last := range byParticipant {
		if !now.Before(last.Add(t.expiry)) {
			delete(byParticipant, participantID)
			continue
		}
		typing = append(typing, participantID)
	}
	if len(byParticipant) == 0 {
		delete(t.signals, conversationID)
	}

	sort.Strings(typing)
	return typing
}
