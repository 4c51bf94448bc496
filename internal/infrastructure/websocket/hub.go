package websocket

import (
	"context"
	"log"
	"sort"
	"sync"

	"carelink/internal/domain/entity"
	"carelink/internal/infrastructure/metrics"
	"carelink/pkg/protocol"
)

// Hub tracks open sessions and fans events out to them. Registration runs
// on the hub loop; fan-out never blocks: a session whose buffer is full is
// closed.
type Hub struct {
	Register   chan *Session
	Unregister chan *Session

	mu            sync.RWMutex
	sessions      map[string]*Session
	byParticipant map[string]map[string]*Session
	subscribers   map[string]map[string]*Session
	members       map[string][2]string

	// OnOffline runs on the hub loop when a participant's last session
	// closes.
	OnOffline func(participantID string)

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Register:      make(chan *Session),
		Unregister:    make(chan *Session),
		sessions:      make(map[string]*Session),
		byParticipant: make(map[string]map[string]*Session),
		subscribers:   make(map[string]map[string]*Session),
		members:       make(map[string][2]string),
		done:          make(chan struct{}),
	}
}

// Start runs the hub loop until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		defer close(h.done)
		for {
			select {
			case s := <-h.Register:
				h.register(s)

			case s := <-h.Unregister:
				h.unregister(s)

			case <-ctx.Done():
				h.closeAll()
				return
			}
		}
	}()
}

// Done is closed once the hub loop has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Attach hands a session to the hub loop. It reports false if the hub has
// stopped.
func (h *Hub) Attach(s *Session) bool {
	select {
	case h.Register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Detach hands a session back for removal; safe after the hub stopped.
func (h *Hub) Detach(s *Session) {
	select {
	case h.Unregister <- s:
	case <-h.done:
	}
}

func (h *Hub) register(s *Session) {
	participantID := s.Identity.ParticipantID

	h.mu.Lock()
	h.sessions[s.ID] = s
	peers, ok := h.byParticipant[participantID]
	if !ok {
		peers = make(map[string]*Session)
		h.byParticipant[participantID] = peers
	}
	peers[s.ID] = s
	firstSession := len(peers) == 1
	h.mu.Unlock()

	metrics.SessionsConnected.Inc()
	log.Printf("WebSocket: session %s registered for %s", s.ID, participantID)

	if firstSession {
		h.publishPresence(participantID, true)
	}
}

func (h *Hub) unregister(s *Session) {
	participantID := s.Identity.ParticipantID

	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	for _, conversationID := range s.markDisconnected() {
		h.removeSubscriber(conversationID, s.ID)
	}
	lastSession := false
	if peers, ok := h.byParticipant[participantID]; ok {
		delete(peers, s.ID)
		if len(peers) == 0 {
			delete(h.byParticipant, participantID)
			lastSession = true
		}
	}
	close(s.Send)
	h.mu.Unlock()

	metrics.SessionsConnected.Dec()
	log.Printf("WebSocket: session %s unregistered for %s", s.ID, participantID)

	if lastSession {
		if h.OnOffline != nil {
			h.OnOffline(participantID)
		}
		h.publishPresence(participantID, false)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

// removeSubscriber expects h.mu to be held.
func (h *Hub) removeSubscriber(conversationID, sessionID string) {
	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
		delete(h.members, conversationID)
	}
}

// Subscribe adds the session to the conversation's audience.
func (h *Hub) Subscribe(s *Session, conv *entity.Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	subs, ok := h.subscribers[conv.ID]
	if !ok {
		subs = make(map[string]*Session)
		h.subscribers[conv.ID] = subs
	}
	subs[s.ID] = s
	h.members[conv.ID] = [2]string{conv.ParticipantA, conv.ParticipantB}
	s.subscribe(conv.ID)
}

func (h *Hub) Unsubscribe(s *Session, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscriber(conversationID, s.ID)
	s.unsubscribe(conversationID)
}

// Online returns which of participantIDs have at least one open session.
func (h *Hub) Online(participantIDs ...string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var online []string
	for _, id := range participantIDs {
		if len(h.byParticipant[id]) > 0 {
			online = append(online, id)
		}
	}
	sort.Strings(online)
	return online
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SendTo queues a frame for one session.
func (h *Hub) SendTo(s *Session, eventType, conversationID string, data interface{}) {
	frame, err := protocol.Encode(eventType, conversationID, data)
	if err != nil {
		log.Printf("WebSocket: encode %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	_, live := h.sessions[s.ID]
	slow := live && !enqueue(s, frame)
	h.mu.RUnlock()

	if slow {
		dropSlow(s)
	}
}

// fanout queues frame for every session in targets. Callers hold h.mu for
// reading, so no session channel can be closed underneath.
func fanout(targets map[string]*Session, frame []byte) []*Session {
	var slow []*Session
	for _, s := range targets {
		if !enqueue(s, frame) {
			slow = append(slow, s)
		}
	}
	return slow
}

func enqueue(s *Session, frame []byte) bool {
	select {
	case s.Send <- frame:
		return true
	default:
		return false
	}
}

func dropSlow(s *Session) {
	metrics.SlowConsumers.Inc()
	log.Printf("WebSocket: session %s is not keeping up, closing", s.ID)
	s.Close()
}

func (h *Hub) broadcast(eventType, conversationID string, data interface{}, pick func(h *Hub) map[string]*Session) {
	frame, err := protocol.Encode(eventType, conversationID, data)
	if err != nil {
		log.Printf("WebSocket: encode %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	slow := fanout(pick(h), frame)
	h.mu.RUnlock()

	for _, s := range slow {
		dropSlow(s)
	}
}

// PublishMessage sends messageAppended to the conversation's subscribers and
// conversationUpdated to the participants' sessions that are not subscribed.
func (h *Hub) PublishMessage(conv *entity.Conversation, msg *entity.Message) {
	appended, err := protocol.Encode(protocol.TypeMessageAppended, conv.ID, protocol.MessageAppendedData{Message: msg})
	if err != nil {
		log.Printf("WebSocket: encode messageAppended: %v", err)
		return
	}
	updated, err := protocol.Encode(protocol.TypeConversationUpdated, conv.ID, protocol.ConversationUpdatedData{Conversation: conv, LastMessage: msg})
	if err != nil {
		log.Printf("WebSocket: encode conversationUpdated: %v", err)
		return
	}

	h.mu.RLock()
	subs := h.subscribers[conv.ID]
	slow := fanout(subs, appended)
	others := make(map[string]*Session)
	for _, participantID := range []string{conv.ParticipantA, conv.ParticipantB} {
		for id, s := range h.byParticipant[participantID] {
			if _, subscribed := subs[id]; !subscribed {
				others[id] = s
			}
		}
	}
	slow = append(slow, fanout(others, updated)...)
	h.mu.RUnlock()

	for _, s := range slow {
		dropSlow(s)
	}
}

// PublishReadAdvanced notifies the counterpart's sessions and the reader's
// other sessions. The session that issued the markRead is skipped.
func (h *Hub) PublishReadAdvanced(conv *entity.Conversation, marker *entity.ReadMarker, originSessionID string) {
	data := protocol.ReadAdvancedData{
		ParticipantID:     marker.ParticipantID,
		LastReadMessageID: marker.LastReadMessageID,
		LastReadAt:        marker.LastReadAt,
	}
	h.broadcast(protocol.TypeReadAdvanced, conv.ID, data, func(h *Hub) map[string]*Session {
		targets := make(map[string]*Session)
		for id, s := range h.byParticipant[conv.Counterpart(marker.ParticipantID)] {
			targets[id] = s
		}
		for id, s := range h.byParticipant[marker.ParticipantID] {
			if id != originSessionID {
				targets[id] = s
			}
		}
		return targets
	})
}

// PublishTyping reaches subscribers other than the typist's own sessions.
func (h *Hub) PublishTyping(conversationID, participantID string, typing bool) {
	data := protocol.TypingChangedData{ParticipantID: participantID, Typing: typing}
	h.broadcast(protocol.TypeTypingChanged, conversationID, data, func(h *Hub) map[string]*Session {
		targets := make(map[string]*Session)
		for id, s := range h.subscribers[conversationID] {
			if s.Identity.ParticipantID != participantID {
				targets[id] = s
			}
		}
		return targets
	})
}

func (h *Hub) PublishConversationUpdated(conv *entity.Conversation) {
	data := protocol.ConversationUpdatedData{Conversation: conv}
	h.broadcast(protocol.TypeConversationUpdated, conv.ID, data, func(h *Hub) map[string]*Session {
		targets := make(map[string]*Session)
		for id, s := range h.subscribers[conv.ID] {
			targets[id] = s
		}
		for _, participantID := range []string{conv.ParticipantA, conv.ParticipantB} {
			for id, s := range h.byParticipant[participantID] {
				targets[id] = s
			}
		}
		return targets
	})
}

// publishPresence tells sessions subscribed to any conversation that
// includes participantID, except that participant's own sessions.
func (h *Hub) publishPresence(participantID string, online bool) {
	data := protocol.PresenceChangedData{ParticipantID: participantID, Online: online}
	h.mu.RLock()
	var conversations []string
	for conversationID, pair := range h.members {
		if pair[0] == participantID || pair[1] == participantID {
			conversations = append(conversations, conversationID)
		}
	}
	h.mu.RUnlock()

	for _, conversationID := range conversations {
		conversationID := conversationID
		h.broadcast(protocol.TypePresenceChanged, conversationID, data, func(h *Hub) map[string]*Session {
			targets := make(map[string]*Session)
			for id, s := range h.subscribers[conversationID] {
				if s.Identity.ParticipantID != participantID {
					targets[id] = s
				}
			}
			return targets
		})
	}
}
