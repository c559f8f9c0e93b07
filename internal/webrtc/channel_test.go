package webrtc_test

import (
	"context"
	"testing"
	"time"

	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/radek00/PeerDrop/internal/webrtc/webrtctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelDeliversInOrderThenCloses(t *testing.T) {
	a, b := webrtctest.NewPair("data")
	left := webrtc.WrapChannel(a)
	right := webrtc.WrapChannel(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, left.WaitOpen(ctx))

	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, left.Send([]byte(s)))
	}
	require.NoError(t, left.Close())

	var got []string
	for len(got) < 3 {
		select {
		case data := <-right.Messages():
			got = append(got, string(data))
		case <-ctx.Done():
			t.Fatal("timed out waiting for frames")
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)

	select {
	case <-right.Closed():
	case <-ctx.Done():
		t.Fatal("peer close not observed")
	}
	assert.ErrorIs(t, right.Send([]byte("late")), webrtc.ErrChannelClosed)
}

func TestChannelSendMessage(t *testing.T) {
	a, b := webrtctest.NewPair("control")
	left := webrtc.WrapChannel(a)
	right := webrtc.WrapChannel(b)

	msg, err := webrtc.NewMessage(webrtc.MessageTypeWriteAck, webrtc.WriteAckPayload{ConfirmedWriteSize: 10})
	require.NoError(t, err)
	require.NoError(t, left.SendMessage(msg))

	select {
	case frame := <-right.Messages():
		parsed, err := webrtc.ParseMessage(frame)
		require.NoError(t, err)
		var ack webrtc.WriteAckPayload
		require.NoError(t, parsed.DecodePayload(&ack))
		assert.Equal(t, int64(10), ack.ConfirmedWriteSize)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
