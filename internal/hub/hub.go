// Package hub is the signaling relay: it groups peers by the network address
// they connect from and routes WebRTC signals between peers of one group.
package hub

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/radek00/PeerDrop/internal/signaling"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the central brain of the signaling relay. All state is owned by
// the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	stats      chan chan Stats
	done       chan struct{}

	// owned by Run
	clients map[*Client]bool
	scopes  map[string]map[string]*Client
}

// Stats is a snapshot of the hub for the health endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Peers       int `json:"peers"`
	Scopes      int `json:"scopes"`
}

// New creates a new Hub instance.
func New() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		scopes:     make(map[string]map[string]*Client),
	}
}

// Run processes hub events until ctx ends, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			close(c.send)
		}
		h.clients = nil
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			slog.Debug("client registered", "remote", client.conn.RemoteAddr(), "scope", client.scope)

		case client := <-h.unregister:
			h.remove(client)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case reply := <-h.stats:
			reply <- Stats{
				Connections: len(h.clients),
				Peers:       h.peerCount(),
				Scopes:      len(h.scopes),
			}
		}
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Stats asks the hub for a snapshot.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	if !h.clients[c] {
		return
	}
	slog.Debug("message received", "type", msg.Type, "from", c.id, "remote", c.conn.RemoteAddr())

	switch {
	case msg.Type == signaling.MessageTypeJoin:
		h.join(c, msg)

	case signaling.IsSignal(msg.Type):
		h.relay(c, msg)

	default:
		slog.Warn("unknown message type", "type", msg.Type, "remote", c.conn.RemoteAddr())
		h.deliver(c, signaling.ErrorMessage("unknown message type "+msg.Type))
	}
}

func (h *Hub) join(c *Client, msg *signaling.Message) {
	if c.id != "" {
		h.deliver(c, signaling.ErrorMessage("already joined"))
		return
	}

	var payload signaling.JoinPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&payload); err != nil {
			h.deliver(c, signaling.ErrorMessage("malformed join"))
			return
		}
	}

	scope := h.scopes[c.scope]
	if scope == nil {
		scope = make(map[string]*Client)
		h.scopes[c.scope] = scope
	}

	taken := make(map[string]bool, len(scope))
	peers := make([]signaling.PeerInfo, 0, len(scope))
	for _, other := range scope {
		taken[other.name] = true
		peers = append(peers, other.info())
	}

	c.id = uuid.NewString()
	c.name = generateName(taken)
	c.clientType = payload.ClientType
	scope[c.id] = c
	slog.Info("peer joined", "peer", c.id, "name", c.name, "scope", c.scope)

	joined, err := signaling.NewMessage(signaling.MessageTypeJoined, signaling.JoinedPayload{
		Self:  c.info(),
		Peers: peers,
	}, "")
	if err != nil {
		slog.Error("encode joined", "error", err)
		return
	}
	h.deliver(c, joined)

	announce, err := signaling.NewMessage(signaling.MessageTypePeerJoined, c.info(), "")
	if err != nil {
		slog.Error("encode peer_joined", "error", err)
		return
	}
	h.broadcast(c.scope, c, announce)
}

// relay forwards an offer, answer or candidate to a peer in the sender's
// scope. Signals for unknown peers are dropped.
func (h *Hub) relay(c *Client, msg *signaling.Message) {
	if c.id == "" {
		h.deliver(c, signaling.ErrorMessage("join before signaling"))
		return
	}

	target, ok := h.scopes[c.scope][msg.TargetID]
	if !ok || target == c {
		slog.Info("dropping signal for unknown peer", "type", msg.Type, "from", c.id, "target", msg.TargetID)
		return
	}

	forward := *msg
	forward.TargetID = ""
	forward.SenderID = c.id
	slog.Debug("relaying signal", "type", msg.Type, "from", c.id, "to", target.id)
	h.deliver(target, &forward)
}

func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	slog.Debug("client unregistered", "remote", c.conn.RemoteAddr())

	if c.id == "" {
		return
	}
	scope := h.scopes[c.scope]
	delete(scope, c.id)
	if len(scope) == 0 {
		delete(h.scopes, c.scope)
	}
	slog.Info("peer left", "peer", c.id, "scope", c.scope)

	left, err := signaling.NewMessage(signaling.MessageTypePeerLeft, signaling.PeerLeftPayload{ID: c.id}, "")
	if err != nil {
		return
	}
	h.broadcast(c.scope, c, left)
}

func (h *Hub) broadcast(scope string, except *Client, msg *signaling.Message) {
	for _, other := range h.scopes[scope] {
		if other != except {
			h.deliver(other, msg)
		}
	}
}

// deliver queues msg for c. A client that cannot keep up is dropped.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("client send buffer full, disconnecting", "peer", c.id)
		h.remove(c)
	}
}

func (h *Hub) peerCount() int {
	n := 0
	for _, scope := range h.scopes {
		n += len(scope)
	}
	return n
}
