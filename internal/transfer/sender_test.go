package transfer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/radek00/PeerDrop/internal/webrtc/webrtctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = []byte("hello from peer 1!!\n")

func TestChunkSenderReportsProgress(t *testing.T) {
	local, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	ch := webrtc.WrapChannel(local)
	defer ch.Close()

	var percents []float64
	var last SendStatus
	sender := NewChunkSender(ch, nil, 5)
	err := sender.Send(context.Background(), bytes.NewReader(payload), int64(len(payload)), func(p float64, s SendStatus) {
		percents = append(percents, p)
		last = s
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, 75, 100}, percents)
	assert.Equal(t, SendCompleted, last)
	assert.Equal(t, SendCompleted, sender.Status())
	assert.Equal(t, [][]byte{
		[]byte("hello"), []byte(" from"), []byte(" peer"), []byte(" 1!!\n"),
	}, local.Sent())
}

func TestChunkSenderSplitsIntoCeilChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		chunks    int
	}{
		{"exact", 20, 5, 4},
		{"remainder", 23, 5, 5},
		{"single", 3, 5, 1},
		{"large chunk", 1000, 4096, 1},
		{"empty", 0, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
			ch := webrtc.WrapChannel(local)
			defer ch.Close()

			data := []byte(strings.Repeat("x", tt.size))
			sender := NewChunkSender(ch, NewFlowController(0), tt.chunkSize)
			require.NoError(t, sender.Send(context.Background(), bytes.NewReader(data), int64(tt.size), nil))

			sent := local.Sent()
			assert.Len(t, sent, tt.chunks)
			var total int
			for i, frame := range sent {
				total += len(frame)
				if i < len(sent)-1 {
					assert.Len(t, frame, tt.chunkSize)
				}
			}
			assert.Equal(t, tt.size, total)
		})
	}
}

func TestChunkSenderShortFileIsError(t *testing.T) {
	local, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	ch := webrtc.WrapChannel(local)
	defer ch.Close()

	var last SendStatus
	sender := NewChunkSender(ch, nil, 5)
	err := sender.Send(context.Background(), bytes.NewReader(payload[:7]), int64(len(payload)), func(_ float64, s SendStatus) {
		last = s
	})
	require.Error(t, err)
	assert.Equal(t, SendError, last)
}

func TestChunkSenderRespectsFlowWindow(t *testing.T) {
	local, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	ch := webrtc.WrapChannel(local)
	defer ch.Close()

	flow := NewFlowController(5)
	sender := NewChunkSender(ch, flow, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sender.Send(ctx, bytes.NewReader(payload), int64(len(payload)), nil)
	}()

	require.Eventually(t, func() bool { return flow.BytesSent() == 5 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, local.Sent(), 1, "second chunk sent without an ack")

	flow.Confirm(5)
	require.Eventually(t, func() bool { return flow.BytesSent() == 10 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, local.Sent(), 2)
}

func TestChunkSenderNeedsOpenChannel(t *testing.T) {
	local, _ := webrtctest.NewPair(webrtc.DataChannelLabel)
	ch := webrtc.WrapChannel(local)
	require.NoError(t, ch.Close())
	<-ch.Closed()

	sender := NewChunkSender(ch, nil, 5)
	err := sender.Send(context.Background(), bytes.NewReader(payload), int64(len(payload)), nil)
	assert.ErrorIs(t, err, ErrChannelNotOpen)
}
