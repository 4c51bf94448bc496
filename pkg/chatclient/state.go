// Package chatclient keeps a participant's view of their conversations
// consistent while messages arrive over two paths: the realtime socket and
// the HTTP fallback.
//
// ConversationState is the pure per-conversation store; it knows nothing
// about transports. Engine drives it from a single goroutine.
package chatclient

import (
	"sort"
	"time"

	"carelink/internal/domain/entity"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Entry is one rendered message. Message.ID is empty until the server
// confirms it.
type Entry struct {
	Message entity.Message
	Status  Status
	// LocalAt orders entries the server has not confirmed yet.
	LocalAt time.Time
	// FailureCode is the error code of the last failed delivery.
	FailureCode string
}

func (e *Entry) Confirmed() bool {
	return e.Message.ID != ""
}

// ConversationState is the ordered message list of one conversation.
// Methods are not safe for concurrent use.
type ConversationState struct {
	ConversationID string
	Self           string
	HistoryLoaded  bool
	// PeerReadAt is the counterpart's read position, for receipts.
	PeerReadAt time.Time

	entries []*Entry
	byID    map[string]*Entry
	byTemp  map[string]*Entry
}

func NewConversationState(conversationID, self string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Self:           self,
		byID:           make(map[string]*Entry),
		byTemp:         make(map[string]*Entry),
	}
}

// AddPending appends an optimistic copy of msg. msg must carry a
// ClientTempID and no ID.
func (s *ConversationState) AddPending(msg entity.Message, localAt time.Time) *Entry {
	if existing, ok := s.byTemp[msg.ClientTempID]; ok {
		return existing
	}

	msg.ConversationID = s.ConversationID
	entry := &Entry{Message: msg, Status: StatusPending, LocalAt: localAt}
	s.entries = append(s.entries, entry)
	s.byTemp[msg.ClientTempID] = entry
	s.sort()
	return entry
}

// Reconcile folds a server-confirmed message into the list. It returns the
// entry now holding msg and whether a new entry was appended. A message
// already present by id is a no-op, so the second of two echoes for the same
// send changes nothing.
func (s *ConversationState) Reconcile(msg *entity.Message) (*Entry, bool) {
	if msg == nil || msg.ID == "" {
		return nil, false
	}
	if existing, ok := s.byID[msg.ID]; ok {
		return existing, false
	}

	if entry := s.matchOptimistic(msg); entry != nil {
		tempID := entry.Message.ClientTempID
		entry.Message = *msg
		if entry.Message.ClientTempID == "" {
			entry.Message.ClientTempID = tempID
		}
		entry.Status = StatusSent
		entry.FailureCode = ""
		s.byID[msg.ID] = entry
		s.sort()
		return entry, false
	}

	entry := &Entry{Message: *msg, Status: StatusSent, LocalAt: msg.CreatedAt}
	s.entries = append(s.entries, entry)
	s.byID[msg.ID] = entry
	if msg.ClientTempID != "" && msg.SenderID == s.Self {
		s.byTemp[msg.ClientTempID] = entry
	}
	s.sort()
	return entry, true
}

// matchOptimistic finds the unconfirmed entry msg confirms. The temp id is
// authoritative when present; sender and content equality is only used for
// messages that come back without one.
func (s *ConversationState) matchOptimistic(msg *entity.Message) *Entry {
	if msg.SenderID != s.Self {
		return nil
	}

	if msg.ClientTempID != "" {
		entry, ok := s.byTemp[msg.ClientTempID]
		if ok && !entry.Confirmed() {
			return entry
		}
		return nil
	}

	var oldest *Entry
	for _, entry := range s.entries {
		if entry.Confirmed() || entry.Status != StatusPending {
			continue
		}
		if entry.Message.Kind != msg.Kind || entry.Message.Body != msg.Body {
			continue
		}
		if oldest == nil || entry.LocalAt.Before(oldest.LocalAt) {
			oldest = entry
		}
	}
	return oldest
}

// MarkFailed flags the unconfirmed entry for tempID. It reports false if
// there is no such entry or it was already confirmed.
func (s *ConversationState) MarkFailed(tempID, code string) bool {
	entry, ok := s.byTemp[tempID]
	if !ok || entry.Confirmed() {
		return false
	}
	entry.Status = StatusFailed
	entry.FailureCode = code
	return true
}

// MarkPending puts a failed entry back in flight for a manual retry. It
// keeps the temp id so the server can recognise a send that did land.
func (s *ConversationState) MarkPending(tempID string, localAt time.Time) (*Entry, bool) {
	entry, ok := s.byTemp[tempID]
	if !ok || entry.Status != StatusFailed {
		return nil, false
	}
	entry.Status = StatusPending
	entry.FailureCode = ""
	entry.LocalAt = localAt
	s.sort()
	return entry, true
}

// MergeHistory reconciles a page of history and returns the messages that
// were not known before.
func (s *ConversationState) MergeHistory(messages []*entity.Message) []*entity.Message {
	var added []*entity.Message
	for _, msg := range messages {
		if entry, isNew := s.Reconcile(msg); isNew {
			added = append(added, &entry.Message)
		}
	}
	return added
}

// LastConfirmedAt is the newest server timestamp held. It is not a catch-up
// cursor: an own send confirmed over HTTP can sit after unfetched messages.
func (s *ConversationState) LastConfirmedAt() time.Time {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Confirmed() {
			return s.entries[i].Message.CreatedAt
		}
	}
	return time.Time{}
}

// LatestConfirmed returns the newest message the server has confirmed.
func (s *ConversationState) LatestConfirmed() *entity.Message {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Confirmed() {
			msg := s.entries[i].Message
			return &msg
		}
	}
	return nil
}

// UnreadAfter counts confirmed messages from others created after t.
func (s *ConversationState) UnreadAfter(t time.Time) int {
	n := 0
	for _, entry := range s.entries {
		if entry.Confirmed() && entry.Message.SenderID != s.Self && entry.Message.CreatedAt.After(t) {
			n++
		}
	}
	return n
}

// Entry returns a copy of the entry for tempID.
func (s *ConversationState) Entry(tempID string) (Entry, bool) {
	entry, ok := s.byTemp[tempID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Entries returns a copy of the list in render order.
func (s *ConversationState) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, entry := range s.entries {
		out[i] = *entry
	}
	return out
}

func (s *ConversationState) Len() int {
	return len(s.entries)
}

// sort orders confirmed entries by server time, then unconfirmed ones by
// local time after the last confirmed entry. Arrival order never matters.
func (s *ConversationState) sort() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if a.Confirmed() != b.Confirmed() {
			return a.Confirmed()
		}
		if a.Confirmed() {
			if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
				return a.Message.CreatedAt.Before(b.Message.CreatedAt)
			}
			return a.Message.ID < b.Message.ID
		}
		if !a.LocalAt.Equal(b.LocalAt) {
			return a.LocalAt.Before(b.LocalAt)
		}
		return a.Message.ClientTempID < b.Message.ClientTempID
	})
}
