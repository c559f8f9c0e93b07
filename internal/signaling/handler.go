package signaling

import (
	"log/slog"
	"sync"
)

// Handler routes incoming signaling messages to appropriate channels.
type Handler struct {
	client     *Client
	Joined     chan JoinedPayload
	PeerJoined chan PeerInfo
	PeerLeft   chan string
	Signal     chan *Message
	Error      chan string
	Done       chan struct{}

	closeOnce sync.Once
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:     client,
		Joined:     make(chan JoinedPayload, 1),
		PeerJoined: make(chan PeerInfo, 16),
		PeerLeft:   make(chan string, 16),
		Signal:     make(chan *Message, 64),
		Error:      make(chan string, 4),
		Done:       make(chan struct{}),
	}
}

// Start routes messages until the connection closes. Roster updates that
// nobody reads are dropped rather than stalling signal delivery.
func (h *Handler) Start() {
	defer h.closeOnce.Do(func() { close(h.Done) })

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case MessageTypeJoined:
			var joined JoinedPayload
			if err := msg.Decode(&joined); err != nil {
				slog.Warn("bad joined message", "error", err)
				continue
			}
			deliver(h.Joined, joined)

		case MessageTypePeerJoined:
			var peer PeerInfo
			if err := msg.Decode(&peer); err != nil {
				slog.Warn("bad peer_joined message", "error", err)
				continue
			}
			deliver(h.PeerJoined, peer)

		case MessageTypePeerLeft:
			var left PeerLeftPayload
			if err := msg.Decode(&left); err != nil {
				slog.Warn("bad peer_left message", "error", err)
				continue
			}
			deliver(h.PeerLeft, left.ID)

		case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
			h.Signal <- msg

		case MessageTypeError:
			var e ErrorPayload
			if err := msg.Decode(&e); err != nil || e.Error == "" {
				e.Error = "unknown error from server"
			}
			deliver(h.Error, e.Error)

		default:
			slog.Debug("ignoring signaling message", "type", msg.Type)
		}
	}
}

func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		slog.Debug("signaling event dropped", "value", v)
	}
}
