package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carelink/pkg/errors"
	"carelink/pkg/logger"
	"carelink/pkg/protocol"
)

const (
	writeWait = 10 * time.Second

	// The server pings every 54s; anything quieter than this is a dead link.
	readWait = 65 * time.Second

	maxFrameSize = 64 * 1024
)

// WSDialer opens the realtime socket at <baseURL>/ws with a bearer token.
type WSDialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

func NewWSDialer(baseURL, token string, handshakeTimeout time.Duration) (*WSDialer, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"

	return &WSDialer{
		URL:              u.String(),
		Token:            token,
		HandshakeTimeout: handshakeTimeout,
	}, nil
}

func (d *WSDialer) Dial(ctx context.Context) (RealtimeConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.Token)

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Unauthenticated("realtime handshake rejected", err)
		}
		return nil, errors.Transient("realtime handshake failed", err)
	}

	c := &wsConn{
		conn:   conn,
		events: make(chan protocol.Envelope, 64),
	}
	go c.readPump()
	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	events chan protocol.Envelope

	writeMu sync.Mutex
}

func (c *wsConn) Events() <-chan protocol.Envelope {
	return c.events
}

func (c *wsConn) Send(eventType, conversationID string, data interface{}) error {
	frame, err := protocol.Encode(eventType, conversationID, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) readPump() {
	defer close(c.events)

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Realtime connection lost: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			logger.Warn("Dropping malformed realtime frame: %v", err)
			continue
		}
		c.events <- env
	}
}
