package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Signaler carries session descriptions and candidates to a remote peer.
// *signaling.Client satisfies it.
type Signaler interface {
	SendOffer(peerID string, offer pion.SessionDescription) error
	SendAnswer(peerID string, answer pion.SessionDescription) error
	SendCandidate(peerID string, candidate pion.ICECandidateInit) error
}

var _ Signaler = (*signaling.Client)(nil)

// Offer is an incoming connection request.
type Offer struct {
	PeerID      string
	Description pion.SessionDescription
}

const incomingBuffer = 8

// Establisher creates peer sessions and routes relay signals to them.
type Establisher struct {
	cfg      *config.Config
	api      *pion.API
	signaler Signaler
	registry *Registry
	incoming chan Offer

	mu    sync.Mutex
	early map[string][]pion.ICECandidateInit
}

// NewEstablisher wires an establisher. A nil api uses pion's default; a nil
// registry gets a fresh one.
func NewEstablisher(cfg *config.Config, api *pion.API, signaler Signaler, registry *Registry) *Establisher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Establisher{
		cfg:      cfg,
		api:      api,
		signaler: signaler,
		registry: registry,
		incoming: make(chan Offer, incomingBuffer),
		early:    make(map[string][]pion.ICECandidateInit),
	}
}

func (e *Establisher) Registry() *Registry {
	return e.registry
}

// Incoming delivers offers from remote peers.
func (e *Establisher) Incoming() <-chan Offer {
	return e.incoming
}

// Initiate connects to peerID as the sending side. Both sub-channels are
// created before the offer so they are part of it.
func (e *Establisher) Initiate(ctx context.Context, peerID string) (*Session, error) {
	s, err := e.newSession(peerID, RoleSender)
	if err != nil {
		return nil, err
	}

	for _, label := range []string{webrtc.ControlChannelLabel, webrtc.DataChannelLabel} {
		dc, err := webrtc.CreateDataChannel(s.pc, label)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.attach(webrtc.WrapChannel(dc))
	}

	offer, err := webrtc.CreateOffer(s.pc)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	if err := e.signaler.SendOffer(peerID, *offer); err != nil {
		s.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}

	s.log.Debug("offer sent")
	return s, nil
}

// AcceptIncoming answers an offer from peerID as the receiving side. The
// sub-channels arrive through the peer connection.
func (e *Establisher) AcceptIncoming(ctx context.Context, offer Offer) (*Session, error) {
	s, err := e.newSession(offer.PeerID, RoleReceiver)
	if err != nil {
		return nil, err
	}

	s.pc.OnDataChannel(func(dc *pion.DataChannel) {
		s.log.Debug("data channel received", "label", dc.Label())
		s.attach(webrtc.WrapChannel(dc))
	})

	answer, err := webrtc.CreateAnswer(s.pc, offer.Description)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.remoteApplied()

	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	if err := e.signaler.SendAnswer(offer.PeerID, *answer); err != nil {
		s.Close()
		return nil, fmt.Errorf("send answer: %w", err)
	}

	s.log.Debug("answer sent")
	return s, nil
}

// HandleSignal routes one relay message. Only malformed or unroutable
// descriptions are reported; candidate problems are logged.
func (e *Establisher) HandleSignal(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypeOffer:
		var desc pion.SessionDescription
		if err := msg.Decode(&desc); err != nil {
			return err
		}
		select {
		case e.incoming <- Offer{PeerID: msg.SenderID, Description: desc}:
		default:
			slog.Warn("dropping offer, too many pending", "peer", msg.SenderID)
		}
		return nil

	case signaling.MessageTypeAnswer:
		var desc pion.SessionDescription
		if err := msg.Decode(&desc); err != nil {
			return err
		}
		s, ok := e.registry.ByPeer(msg.SenderID)
		if !ok || s.Role != RoleSender {
			return fmt.Errorf("answer from %s: %w", msg.SenderID, ErrUnknownPeer)
		}
		if s.hasRemote() {
			s.log.Warn("ignoring repeated answer")
			return nil
		}
		if err := s.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		s.remoteApplied()
		return nil

	case signaling.MessageTypeICECandidate:
		var c pion.ICECandidateInit
		if err := msg.Decode(&c); err != nil {
			slog.Warn("bad ICE candidate", "peer", msg.SenderID, "error", err)
			return nil
		}
		e.mu.Lock()
		s, ok := e.registry.ByPeer(msg.SenderID)
		if !ok {
			e.early[msg.SenderID] = append(e.early[msg.SenderID], c)
		}
		e.mu.Unlock()
		if ok {
			s.AddCandidate(c)
		}
		return nil
	}

	return fmt.Errorf("unexpected signal %q", msg.Type)
}

// Cancel closes the session behind handle, if any.
func (e *Establisher) Cancel(handle string) {
	if s, ok := e.registry.Get(handle); ok {
		s.Close()
	}
}

// Forget drops candidates held for a peer that never got a session.
func (e *Establisher) Forget(peerID string) {
	e.mu.Lock()
	delete(e.early, peerID)
	e.mu.Unlock()
}

func (e *Establisher) newSession(peerID string, role Role) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg, e.api)
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.NewString(), peerID, role, pc)

	// registering and claiming held candidates together keeps a candidate
	// from landing in early after the claim
	e.mu.Lock()
	e.registry.Add(s)
	s.pending = append(s.pending, e.early[peerID]...)
	delete(e.early, peerID)
	e.mu.Unlock()

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		if err := e.signaler.SendCandidate(peerID, c.ToJSON()); err != nil {
			s.log.Debug("send ICE candidate", "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.log.Debug("connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			go s.Close()
		}
	})
	return s, nil
}
