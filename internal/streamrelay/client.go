package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Poster delivers session requests to the relay's background context.
type Poster interface {
	PostMessage(ctx context.Context, req Request) error
}

// Client is the page side of the relay.
type Client struct {
	bus   *Bus
	relay Poster
}

func NewClient(bus *Bus, relay Poster) *Client {
	return &Client{bus: bus, relay: relay}
}

// CreateWriteStream opens a relay session for meta. It subscribes to the
// session channel before asking the relay for a stream and returns once the
// relay has announced the download URL.
func (c *Client) CreateWriteStream(ctx context.Context, meta webrtc.FileMetadata) (*WriteStream, error) {
	id := uuid.NewString()
	channel := c.bus.Open(id)

	if err := c.relay.PostMessage(ctx, Request{Metadata: meta, SessionID: id}); err != nil {
		channel.Close()
		return nil, fmt.Errorf("request relay session: %w", err)
	}

	select {
	case msg, ok := <-channel.Messages():
		if !ok {
			return nil, ErrBusChannelClosed
		}
		if msg.Kind != KindDownload {
			channel.Close()
			return nil, fmt.Errorf("relay answered with %q before announcing a download", msg.Kind)
		}
		return &WriteStream{
			id:      id,
			url:     msg.Download,
			meta:    meta,
			bus:     c.bus,
			channel: channel,
		}, nil
	case <-ctx.Done():
		_ = channel.Post(CancelMessage())
		channel.Close()
		return nil, ctx.Err()
	}
}

// WriteStream forwards chunks to the relay and surfaces its replies.
type WriteStream struct {
	id      string
	url     string
	meta    webrtc.FileMetadata
	bus     *Bus
	channel *BusChannel

	mu     sync.Mutex
	closed bool
}

func (w *WriteStream) SessionID() string             { return w.id }
func (w *WriteStream) URL() string                   { return w.url }
func (w *WriteStream) Metadata() webrtc.FileMetadata { return w.meta }

// Events yields relay messages: confirmedWriteSize, readStarted, cancel and error.
func (w *WriteStream) Events() <-chan Message {
	return w.channel.Messages()
}

// Write posts p as one chunk. It fails once the relay side has gone away.
func (w *WriteStream) Write(p []byte) (int, error) {
	if err := w.post(ChunkMessage(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// DoneSending tells the relay no more chunks will follow. Repeating it, even
// after the relay closed, is harmless.
func (w *WriteStream) DoneSending() error {
	if err := w.post(ClientDoneSendingMessage()); err != nil && !errors.Is(err, ErrStreamClosed) {
		return err
	}
	return nil
}

// Cancel aborts the relay session as cancelled and closes the stream.
func (w *WriteStream) Cancel() {
	w.abort(CancelMessage())
}

// Fail aborts the relay session with an error and closes the stream.
func (w *WriteStream) Fail(reason string) {
	w.abort(ErrorMessage(reason))
}

func (w *WriteStream) abort(msg Message) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		_ = w.channel.Post(msg)
	}
	w.Close()
}

func (w *WriteStream) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.channel.Close()
}

func (w *WriteStream) post(msg Message) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	if w.bus.Subscribers(w.id) < 2 {
		return ErrStreamClosed
	}
	return w.channel.Post(msg)
}
