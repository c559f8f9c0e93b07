package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"
	"github.com/radek00/PeerDrop/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("signaling client closed")

// Client manages the WebSocket connection to the signaling relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	resolver  *dns.Resolver
	incoming  chan *Message
	outgoing  chan *Message
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new signaling client. A nil resolver uses dns.NewResolver.
func NewClient(serverURL string, resolver *dns.Resolver) *Client {
	if resolver == nil {
		resolver = dns.NewResolver()
	}
	return &Client{
		serverURL: serverURL,
		resolver:  resolver,
		incoming:  make(chan *Message, 16),
		outgoing:  make(chan *Message, 16),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   c.resolver.DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("signaling read failed", "error", err)
			}
			return
		}
		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				slog.Debug("signaling write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage queues msg for the relay.
func (c *Client) SendMessage(msg *Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

func (c *Client) send(t string, payload any, target string) error {
	msg, err := NewMessage(t, payload, target)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// Join enters the caller's network scope on the relay.
func (c *Client) Join(clientType string) error {
	return c.send(MessageTypeJoin, JoinPayload{ClientType: clientType}, "")
}

func (c *Client) SendOffer(peerID string, offer pion.SessionDescription) error {
	return c.send(MessageTypeOffer, offer, peerID)
}

func (c *Client) SendAnswer(peerID string, answer pion.SessionDescription) error {
	return c.send(MessageTypeAnswer, answer, peerID)
}

func (c *Client) SendCandidate(peerID string, candidate pion.ICECandidateInit) error {
	return c.send(MessageTypeICECandidate, candidate, peerID)
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
