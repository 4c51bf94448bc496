package websocket

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carelink/internal/domain/entity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateSubscribed
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Session is one open socket, i.e. one browser tab or device. Sessions are
// never persisted.
type Session struct {
	ID          string
	Identity    entity.Identity
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	mu            sync.Mutex
	state         SessionState
	subscriptions map[string]struct{}
	closeOnce     sync.Once
}

func NewSession(id string, identity entity.Identity, conn *websocket.Conn) *Session {
	return &Session{
		ID:            id,
		Identity:      identity,
		Conn:          conn,
		Send:          make(chan []byte, sendBufferSize),
		ConnectedAt:   time.Now(),
		state:         StateAuthenticated,
		subscriptions: make(map[string]struct{}),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsSubscribed(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[conversationID]
	return ok
}

func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) subscribe(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.subscriptions[conversationID] = struct{}{}
	s.state = StateSubscribed
}

func (s *Session) unsubscribe(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, conversationID)
	if len(s.subscriptions) == 0 && s.state == StateSubscribed {
		s.state = StateAuthenticated
	}
}

func (s *Session) markDisconnected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.subscriptions = make(map[string]struct{})
	return ids
}

// Close shuts the socket once; the read pump then unregisters the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.Conn != nil {
			s.Conn.Close()
		}
	})
}

// ReadPump delivers frames to handle one at a time until the socket fails.
func (s *Session) ReadPump(handle func(*Session, []byte)) {
	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket: session %s read error: %v", s.ID, err)
			}
			return
		}
		handle(s, message)
	}
}

// WritePump owns all writes to the socket, including keepalive pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket: session %s write error: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
