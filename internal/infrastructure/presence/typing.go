package presence

import (
	"sort"
	"sync"
	"time"
)

const DefaultTypingExpiry = time.Second

type typingKey struct {
	conversationID string
	participantID  string
}

// TypingState is one participant's typing signal in one conversation.
type TypingState struct {
	ConversationID string
	ParticipantID  string
	IsTyping       bool
	LastSignalAt   time.Time
}

type typingEntry struct {
	lastSignal    time.Time
	lastBroadcast time.Time
}

// TypingRegistry is the in-memory typing state of this process. Entries
// expire after the configured window without renewal; nothing is persisted.
type TypingRegistry struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	expiry  time.Duration
	now     func() time.Time
}

func NewTypingRegistry(expiry time.Duration) *TypingRegistry {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingRegistry{
		entries: make(map[typingKey]*typingEntry),
		expiry:  expiry,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (r *TypingRegistry) WithClock(now func() time.Time) *TypingRegistry {
	r.now = now
	return r
}

// Start records or renews a typing signal and reports whether it should be
// broadcast: on the transition to typing, and for renewals at most once per
// half expiry window so receivers never see the signal lapse.
func (r *TypingRegistry) Start(conversationID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := typingKey{conversationID, participantID}
	now := r.now()
	entry, ok := r.entries[key]
	if !ok || now.Sub(entry.lastSignal) >= r.expiry {
		r.entries[key] = &typingEntry{lastSignal: now, lastBroadcast: now}
		return true
	}

	entry.lastSignal = now
	if now.Sub(entry.lastBroadcast) >= r.expiry/2 {
		entry.lastBroadcast = now
		return true
	}
	return false
}

// Stop clears a typing signal and reports whether one was active.
func (r *TypingRegistry) Stop(conversationID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := typingKey{conversationID, participantID}
	entry, ok := r.entries[key]
	delete(r.entries, key)
	return ok && r.now().Sub(entry.lastSignal) < r.expiry
}

// Typing lists participants currently typing in a conversation. Expired
// entries are ignored even if the sweep has not run yet.
func (r *TypingRegistry) Typing(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []string
	for key, entry := range r.entries {
		if key.conversationID == conversationID && now.Sub(entry.lastSignal) < r.expiry {
			out = append(out, key.participantID)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep removes expired entries and returns them so a stop can be broadcast.
func (r *TypingRegistry) Sweep() []TypingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var expired []TypingState
	for key, entry := range r.entries {
		if now.Sub(entry.lastSignal) >= r.expiry {
			delete(r.entries, key)
			expired = append(expired, TypingState{
				ConversationID: key.conversationID,
				ParticipantID:  key.participantID,
				LastSignalAt:   entry.lastSignal,
			})
		}
	}
	return expired
}

// ClearParticipant drops every signal of a participant, e.g. when their last
// session disconnects, and returns the conversations that were affected.
func (r *TypingRegistry) ClearParticipant(participantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conversations []string
	for key := range r.entries {
		if key.participantID == participantID {
			delete(r.entries, key)
			conversations = append(conversations, key.conversationID)
		}
	}
	sort.Strings(conversations)
	return conversations
}

func (r *TypingRegistry) Expiry() time.Duration {
	return r.expiry
}
