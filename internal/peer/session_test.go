package peer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/radek00/PeerDrop/internal/webrtc/webrtctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetMetadataKeepsTerminalStatus(t *testing.T) {
	s := newSession("s1", "p1", RoleSender, nil)
	meta := webrtc.FileMetadata{Name: "a.txt", Size: 3}

	require.NoError(t, s.SetMetadata(meta.WithStatus(webrtc.StatusPending)))
	require.NoError(t, s.SetMetadata(meta.WithStatus(webrtc.StatusCompleted)))
	assert.ErrorIs(t, s.SetMetadata(meta.WithStatus(webrtc.StatusError)), ErrMetadataImmutable)
	assert.NoError(t, s.SetMetadata(meta.WithStatus(webrtc.StatusCompleted)))
	assert.Equal(t, webrtc.StatusCompleted, s.Metadata().Status)
}

func TestCandidatesWaitForRemoteDescription(t *testing.T) {
	s := newSession("s1", "p1", RoleReceiver, nil)
	c := pion.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}

	s.AddCandidate(c)
	s.AddCandidate(c)
	assert.Len(t, s.pending, 2)

	s.remoteApplied()
	assert.Empty(t, s.pending)
	assert.True(t, s.hasRemote())

	s.AddCandidate(c)
	assert.Empty(t, s.pending)
}

func TestSessionReadyAndCloseOnChannelClose(t *testing.T) {
	reg := NewRegistry()
	s := newSession("s1", "p1", RoleSender, nil)
	reg.Add(s)

	ca, _ := webrtctest.NewPair(webrtc.ControlChannelLabel)
	da, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	s.attach(webrtc.WrapChannel(ca))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, s.WaitReady(ctx), context.DeadlineExceeded)
	cancel()

	s.attach(webrtc.WrapChannel(da))
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))

	require.NoError(t, da.Close())
	select {
	case <-s.Closed():
	case <-time.After(time.Second):
		t.Fatal("session not closed after data channel closed")
	}
	_, ok := reg.Get("s1")
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestUnexpectedLabelIsClosed(t *testing.T) {
	s := newSession("s1", "p1", RoleReceiver, nil)
	a, _ := webrtctest.NewPair("bogus")
	ch := webrtc.WrapChannel(a)

	s.attach(ch)
	assert.Nil(t, s.Control())
	assert.Nil(t, s.Data())
	select {
	case <-ch.Closed():
	case <-time.After(time.Second):
		t.Fatal("unexpected channel left open")
	}
}

func TestDuplicateLabelIsClosed(t *testing.T) {
	s := newSession("s1", "p1", RoleReceiver, nil)
	defer s.Close()

	control, _ := webrtctest.NewPair(webrtc.ControlChannelLabel)
	data, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	s.attach(webrtc.WrapChannel(control))
	first := webrtc.WrapChannel(data)
	s.attach(first)

	for _, label := range []string{webrtc.DataChannelLabel, webrtc.ControlChannelLabel} {
		extra, _ := webrtctest.NewPair(label)
		ch := webrtc.WrapChannel(extra)
		require.NotPanics(t, func() { s.attach(ch) }, label)

		select {
		case <-ch.Closed():
		case <-time.After(time.Second):
			t.Fatalf("duplicate %s channel left open", label)
		}
	}

	assert.Same(t, first, s.Data())
	select {
	case <-s.Closed():
		t.Fatal("duplicate channel tore down the session")
	default:
	}
}

func TestRegistryByPeerPrefersNewest(t *testing.T) {
	reg := NewRegistry()
	old := newSession("a", "p1", RoleSender, nil)
	newer := newSession("b", "p1", RoleSender, nil)
	other := newSession("c", "p2", RoleReceiver, nil)
	reg.Add(old)
	reg.Add(newer)
	reg.Add(other)

	s, ok := reg.ByPeer("p1")
	require.True(t, ok)
	assert.Same(t, newer, s)

	newer.Close()
	s, ok = reg.ByPeer("p1")
	require.True(t, ok)
	assert.Same(t, old, s)

	assert.Equal(t, []string{"a", "c"}, reg.List())
	reg.CloseAll()
	assert.Zero(t, reg.Len())
	_, ok = reg.ByPeer("p2")
	assert.False(t, ok)
}

func TestRegistryAddWhileClosing(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		s := newSession(fmt.Sprintf("s%d", i), "p1", RoleSender, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
		reg.Add(s)
	}
	wg.Wait()

	assert.Zero(t, reg.Len(), "closed sessions left in the registry: %v", reg.List())
}
