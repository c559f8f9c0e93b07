package peer

import (
	"context"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback delivers signals straight into the other establisher, the way
// the relay would after stamping the sender id.
type loopback struct {
	self  string
	other *Establisher
	fail  error
}

func (l *loopback) deliver(t string, payload any) error {
	if l.fail != nil {
		return l.fail
	}
	msg, err := signaling.NewMessage(t, payload, "")
	if err != nil {
		return err
	}
	msg.SenderID = l.self
	return l.other.HandleSignal(msg)
}

func (l *loopback) SendOffer(_ string, d pion.SessionDescription) error {
	return l.deliver(signaling.MessageTypeOffer, d)
}

func (l *loopback) SendAnswer(_ string, d pion.SessionDescription) error {
	return l.deliver(signaling.MessageTypeAnswer, d)
}

func (l *loopback) SendCandidate(_ string, c pion.ICECandidateInit) error {
	return l.deliver(signaling.MessageTypeICECandidate, c)
}

func newEstablishers(t *testing.T) (*Establisher, *Establisher) {
	t.Helper()
	cfg := &config.Config{}
	api := webrtc.NewAPI(true)

	toB := &loopback{self: "alice"}
	toA := &loopback{self: "bob"}
	a := NewEstablisher(cfg, api, toB, nil)
	b := NewEstablisher(cfg, api, toA, nil)
	toB.other, toA.other = b, a

	t.Cleanup(func() {
		a.Registry().CloseAll()
		b.Registry().CloseAll()
	})
	return a, b
}

func TestEstablishOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}
	alice, bob := newEstablishers(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sender, err := alice.Initiate(ctx, "bob")
	require.NoError(t, err)

	var offer Offer
	select {
	case offer = <-bob.Incoming():
	case <-ctx.Done():
		t.Fatal("offer never arrived")
	}
	assert.Equal(t, "alice", offer.PeerID)

	receiver, err := bob.AcceptIncoming(ctx, offer)
	require.NoError(t, err)

	require.NoError(t, sender.WaitReady(ctx))
	require.NoError(t, receiver.WaitReady(ctx))

	require.NoError(t, sender.Control().Send([]byte("ping")))
	select {
	case got := <-receiver.Control().Messages():
		assert.Equal(t, []byte("ping"), got)
	case <-ctx.Done():
		t.Fatal("control frame not delivered")
	}

	require.NoError(t, sender.Close())
	select {
	case <-receiver.Closed():
	case <-time.After(10 * time.Second):
		t.Fatal("remote session did not close")
	}
	assert.Zero(t, alice.Registry().Len())
	assert.Zero(t, bob.Registry().Len())
}

func TestSignalerFailureTearsDown(t *testing.T) {
	cfg := &config.Config{}
	sig := &loopback{self: "alice", fail: assert.AnError}
	e := NewEstablisher(cfg, webrtc.NewAPI(true), sig, nil)

	_, err := e.Initiate(context.Background(), "bob")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, e.Registry().Len())
}

func TestEarlyCandidatesAreHeldPerPeer(t *testing.T) {
	e := NewEstablisher(&config.Config{}, nil, &loopback{}, nil)

	msg, err := signaling.NewMessage(signaling.MessageTypeICECandidate, pion.ICECandidateInit{Candidate: "candidate:1"}, "")
	require.NoError(t, err)
	msg.SenderID = "bob"
	require.NoError(t, e.HandleSignal(msg))
	require.NoError(t, e.HandleSignal(msg))

	e.mu.Lock()
	assert.Len(t, e.early["bob"], 2)
	e.mu.Unlock()

	s, err := e.newSession("bob", RoleReceiver)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, s.pending, 2)

	e.mu.Lock()
	assert.Empty(t, e.early["bob"])
	e.mu.Unlock()
}

func TestAnswerWithoutSession(t *testing.T) {
	e := NewEstablisher(&config.Config{}, nil, &loopback{}, nil)
	msg, err := signaling.NewMessage(signaling.MessageTypeAnswer, pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0"}, "")
	require.NoError(t, err)
	msg.SenderID = "ghost"
	assert.ErrorIs(t, e.HandleSignal(msg), ErrUnknownPeer)
}
