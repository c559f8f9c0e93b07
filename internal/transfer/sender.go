package transfer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/radek00/PeerDrop/internal/utils"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// SendStatus is reported with every progress update of a ChunkSender.
type SendStatus string

const (
	SendStarting  SendStatus = "starting"
	SendUploading SendStatus = "uploading"
	SendCompleted SendStatus = "completed"
	SendError     SendStatus = "error"
)

// ProgressFunc receives the completed percentage after every chunk.
type ProgressFunc func(percent float64, status SendStatus)

var (
	HighWaterMark = uint64(utils.HighWaterMark)
	LowWaterMark  = uint64(utils.LowWaterMark)
	SendTimeout   = time.Duration(utils.SendTimeout) * time.Second
)

// ChunkSender writes a file to a data channel in fixed-size messages.
type ChunkSender struct {
	channel   *webrtc.Channel
	flow      *FlowController
	chunkSize int
	buffer    []byte
	status    SendStatus
}

func NewChunkSender(ch *webrtc.Channel, flow *FlowController, chunkSize int) *ChunkSender {
	ch.SetBufferedAmountLowThreshold(LowWaterMark)
	if flow == nil {
		flow = NewFlowController(0)
	}
	return &ChunkSender{
		channel:   ch,
		flow:      flow,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
		status:    SendStarting,
	}
}

func (s *ChunkSender) Status() SendStatus {
	return s.status
}

// WaitForWindow blocks while the transport's own send buffer is above the
// high water mark.
func (s *ChunkSender) WaitForWindow(ctx context.Context) error {
	bufferedAmount := s.channel.BufferedAmount()
	if bufferedAmount < HighWaterMark {
		return nil
	}

	wait := make(chan struct{}, 1)
	s.channel.OnBufferedAmountLow(func() {
		select {
		case wait <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(SendTimeout)
	defer timer.Stop()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.channel.Closed():
		return ErrChannelClosed
	case <-timer.C:
		if s.channel.BufferedAmount() < bufferedAmount {
			return nil
		}
		return WrapError("send", ErrBufferTimeout, "buffer not draining")
	}
}

// Send streams size bytes from file. Each read completes before the next
// chunk is issued, and every chunk waits for both the flow-control window
// and the transport buffer.
func (s *ChunkSender) Send(ctx context.Context, file io.Reader, size int64, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(float64, SendStatus) {}
	}

	var offset int64
	fail := func(err error) error {
		s.status = SendError
		onProgress(percentOf(offset, size), SendError)
		return err
	}

	if !s.channel.IsOpen() {
		return fail(ErrChannelNotOpen)
	}

	if size == 0 {
		s.status = SendCompleted
		onProgress(100, SendCompleted)
		return nil
	}

	slog.Debug("sending file", "bytes", size, "chunks", utils.ChunkCount(size, s.chunkSize), "chunk_size", s.chunkSize)
	for offset < size {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := s.flow.Wait(ctx); err != nil {
			return fail(err)
		}
		if err := s.WaitForWindow(ctx); err != nil {
			return fail(err)
		}

		n := min(int64(s.chunkSize), size-offset)
		chunk := s.buffer[:n]
		if _, err := io.ReadFull(file, chunk); err != nil {
			return fail(NewError("read file", err))
		}
		if err := s.channel.Send(chunk); err != nil {
			return fail(NewError("send chunk", err))
		}

		s.flow.Sent(n)
		offset += n

		s.status = SendUploading
		if offset == size {
			s.status = SendCompleted
		}
		onProgress(percentOf(offset, size), s.status)
	}
	return nil
}

func percentOf(offset, size int64) float64 {
	if size <= 0 {
		return 100
	}
	return float64(offset) / float64(size) * 100
}
