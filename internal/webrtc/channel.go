package webrtc

import (
	"context"
	"errors"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
)

var (
	ErrChannelClosed  = errors.New("channel closed")
	ErrChannelNotOpen = errors.New("channel not open")
)

// DataChannel is the subset of *pion.DataChannel the transfer layer uses.
type DataChannel interface {
	Label() string
	ReadyState() pion.DataChannelState
	Send(data []byte) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg pion.DataChannelMessage))
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
	Close() error
}

var _ DataChannel = (*pion.DataChannel)(nil)

const inboxSize = 64

// Channel turns data channel callbacks into Go channels. Handlers are
// installed at wrap time so nothing that arrives before the first read is lost.
type Channel struct {
	dc DataChannel

	inbox  chan []byte
	opened chan struct{}
	closed chan struct{}
	stop   chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once
	stopOnce  sync.Once
}

// WrapChannel installs the open/message/close handlers on dc.
func WrapChannel(dc DataChannel) *Channel {
	c := &Channel{
		dc:     dc,
		inbox:  make(chan []byte, inboxSize),
		opened: make(chan struct{}),
		closed: make(chan struct{}),
		stop:   make(chan struct{}),
	}

	dc.OnOpen(c.markOpen)
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		select {
		case c.inbox <- msg.Data:
		case <-c.stop:
		}
	})
	dc.OnClose(c.markClosed)

	switch dc.ReadyState() {
	case pion.DataChannelStateOpen:
		c.markOpen()
	case pion.DataChannelStateClosed:
		c.markClosed()
	}
	return c
}

func (c *Channel) markOpen() {
	c.openOnce.Do(func() { close(c.opened) })
}

func (c *Channel) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Label returns the data channel label.
func (c *Channel) Label() string {
	return c.dc.Label()
}

// Messages delivers inbound frames in arrival order.
func (c *Channel) Messages() <-chan []byte {
	return c.inbox
}

// Opened is closed once the channel is open.
func (c *Channel) Opened() <-chan struct{} {
	return c.opened
}

// Closed is closed once the channel has closed, locally or remotely.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

func (c *Channel) IsOpen() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}

// WaitOpen blocks until the channel opens, closes, or ctx ends.
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain returns frames already queued without blocking. Used after Closed fires.
func (c *Channel) Drain() [][]byte {
	var frames [][]byte
	for {
		select {
		case data := <-c.inbox:
			frames = append(frames, data)
		default:
			return frames
		}
	}
}

func (c *Channel) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	if !c.IsOpen() {
		return ErrChannelNotOpen
	}
	return c.dc.Send(data)
}

// SendMessage encodes msg and sends it.
func (c *Channel) SendMessage(msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Channel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *Channel) SetBufferedAmountLowThreshold(th uint64) {
	c.dc.SetBufferedAmountLowThreshold(th)
}

func (c *Channel) OnBufferedAmountLow(f func()) {
	c.dc.OnBufferedAmountLow(f)
}

// Flush waits until the transport has handed off every queued byte, the
// channel stops being open, or ctx ends.
func (c *Channel) Flush(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.BufferedAmount() > 0 && c.IsOpen() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops delivery and closes the underlying channel.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.dc.Close()
}
