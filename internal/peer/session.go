// Package peer establishes WebRTC peer sessions through the signaling relay
// and keeps track of them by opaque handle.
package peer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

var (
	ErrSessionClosed     = errors.New("peer session closed")
	ErrMetadataImmutable = errors.New("transfer already finished")
	ErrUnknownPeer       = errors.New("no session for peer")
)

// Role is the part a session plays in a transfer.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Session is one peer connection with its control and data channels.
type Session struct {
	ID     string
	PeerID string
	Role   Role

	pc  *pion.PeerConnection
	log *slog.Logger

	mu        sync.Mutex
	control   *webrtc.Channel
	data      *webrtc.Channel
	remoteSet bool
	pending   []pion.ICECandidateInit
	meta      webrtc.FileMetadata

	channelsReady chan struct{}
	closed        chan struct{}
	closeOnce     sync.Once
	onClose       func(*Session)
}

func newSession(id, peerID string, role Role, pc *pion.PeerConnection) *Session {
	return &Session{
		ID:            id,
		PeerID:        peerID,
		Role:          role,
		pc:            pc,
		log:           slog.With("session", id, "peer", peerID, "role", role),
		channelsReady: make(chan struct{}),
		closed:        make(chan struct{}),
	}
}

// Control returns the control channel, nil until it was created or received.
func (s *Session) Control() *webrtc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

// Data returns the data channel, nil until it was created or received.
func (s *Session) Data() *webrtc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// attach records a sub-channel by label. Once both exist the session closes
// itself when either of them closes.
func (s *Session) attach(ch *webrtc.Channel) {
	s.mu.Lock()
	switch ch.Label() {
	case webrtc.ControlChannelLabel:
		if s.control != nil {
			s.mu.Unlock()
			s.log.Warn("ignoring duplicate data channel", "label", ch.Label())
			ch.Close()
			return
		}
		s.control = ch
	case webrtc.DataChannelLabel:
		if s.data != nil {
			s.mu.Unlock()
			s.log.Warn("ignoring duplicate data channel", "label", ch.Label())
			ch.Close()
			return
		}
		s.data = ch
	default:
		s.mu.Unlock()
		s.log.Warn("ignoring unexpected data channel", "label", ch.Label())
		ch.Close()
		return
	}
	complete := s.control != nil && s.data != nil
	control, data := s.control, s.data
	s.mu.Unlock()

	if !complete {
		return
	}
	close(s.channelsReady)
	go func() {
		select {
		case <-control.Closed():
			s.log.Debug("control channel closed")
		case <-data.Closed():
			s.log.Debug("data channel closed")
		case <-s.closed:
			return
		}
		s.Close()
	}()
}

// WaitReady blocks until both sub-channels are open. On error the caller
// still owns the half-open session and should close it.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.channelsReady:
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, ch := range []*webrtc.Channel{s.Control(), s.Data()} {
		if err := ch.WaitOpen(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Metadata() webrtc.FileMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetMetadata records the latest metadata. A terminal status is final.
func (s *Session) SetMetadata(meta webrtc.FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.Status.IsTerminal() && meta.Status != s.meta.Status {
		return ErrMetadataImmutable
	}
	s.meta = meta
	return nil
}

// AddCandidate applies a remote ICE candidate, holding it until the remote
// description is known. Failures are logged only.
func (s *Session) AddCandidate(c pion.ICECandidateInit) {
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.applyCandidate(c)
}

func (s *Session) applyCandidate(c pion.ICECandidateInit) {
	if s.pc == nil {
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		s.log.Warn("add ICE candidate", "error", err)
	}
}

// remoteApplied marks the remote description as set and flushes held
// candidates.
func (s *Session) remoteApplied() {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		s.applyCandidate(c)
	}
}

func (s *Session) hasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSet
}

// Closed is closed once the session was torn down.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close tears down the channels and the peer connection. Safe to repeat.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		control, data := s.control, s.data
		s.mu.Unlock()

		if control != nil {
			control.Close()
		}
		if data != nil {
			data.Close()
		}
		if s.pc != nil {
			err = s.pc.Close()
		}
		close(s.closed)
		s.log.Debug("session closed")

		s.mu.Lock()
		onClose := s.onClose
		s.mu.Unlock()
		if onClose != nil {
			onClose(s)
		}
	})
	return err
}
