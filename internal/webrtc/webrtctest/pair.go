// Package webrtctest provides an in-memory, ordered, reliable data channel
// pair for exercising the transfer protocol without ICE.
package webrtctest

import (
	"io"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// Endpoint is one side of a Pair. It satisfies webrtc.DataChannel.
type Endpoint struct {
	label string
	peer  *Endpoint

	mu        sync.Mutex
	cond      *sync.Cond
	state     pion.DataChannelState
	closing   bool
	queue     [][]byte
	sent      [][]byte
	onOpen    func()
	onClose   func()
	onMessage func(pion.DataChannelMessage)
	onLow     func()
	threshold uint64
}

// NewPair returns two connected, open endpoints. Frames sent on one are
// delivered to the other in order.
func NewPair(label string) (*Endpoint, *Endpoint) {
	a := newEndpoint(label)
	b := newEndpoint(label)
	a.peer, b.peer = b, a
	go a.run()
	go b.run()
	return a, b
}

func newEndpoint(label string) *Endpoint {
	e := &Endpoint{label: label, state: pion.DataChannelStateOpen}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *Endpoint) Label() string { return e.label }

func (e *Endpoint) ReadyState() pion.DataChannelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Send queues a copy of data for the peer.
func (e *Endpoint) Send(data []byte) error {
	e.mu.Lock()
	if e.state != pion.DataChannelStateOpen {
		e.mu.Unlock()
		return io.ErrClosedPipe
	}
	frame := append([]byte(nil), data...)
	e.sent = append(e.sent, frame)
	e.mu.Unlock()

	p := e.peer
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return io.ErrClosedPipe
	}
	p.queue = append(p.queue, frame)
	p.cond.Broadcast()
	return nil
}

// Sent returns copies of every frame sent from this endpoint.
func (e *Endpoint) Sent() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.sent))
	copy(out, e.sent)
	return out
}

func (e *Endpoint) OnOpen(f func()) {
	e.mu.Lock()
	e.onOpen = f
	open := e.state == pion.DataChannelStateOpen
	e.mu.Unlock()
	if open && f != nil {
		go f()
	}
}

func (e *Endpoint) OnClose(f func()) {
	e.mu.Lock()
	e.onClose = f
	e.mu.Unlock()
}

func (e *Endpoint) OnMessage(f func(msg pion.DataChannelMessage)) {
	e.mu.Lock()
	e.onMessage = f
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *Endpoint) BufferedAmount() uint64 { return 0 }

func (e *Endpoint) SetBufferedAmountLowThreshold(th uint64) {
	e.mu.Lock()
	e.threshold = th
	e.mu.Unlock()
}

func (e *Endpoint) OnBufferedAmountLow(f func()) {
	e.mu.Lock()
	e.onLow = f
	e.mu.Unlock()
}

// Close closes both endpoints. Frames already queued are still delivered
// before the close handlers run.
func (e *Endpoint) Close() error {
	e.beginClose()
	e.peer.beginClose()
	return nil
}

func (e *Endpoint) beginClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return
	}
	e.closing = true
	if e.state == pion.DataChannelStateOpen {
		e.state = pion.DataChannelStateClosing
	}
	e.cond.Broadcast()
}

func (e *Endpoint) run() {
	for {
		e.mu.Lock()
		for !e.closing && (len(e.queue) == 0 || e.onMessage == nil) {
			e.cond.Wait()
		}
		if len(e.queue) == 0 || e.onMessage == nil {
			e.queue = nil
			e.state = pion.DataChannelStateClosed
			onClose := e.onClose
			e.mu.Unlock()
			if onClose != nil {
				onClose()
			}
			return
		}
		frame := e.queue[0]
		e.queue = e.queue[1:]
		handler := e.onMessage
		e.mu.Unlock()

		handler(pion.DataChannelMessage{Data: frame})
	}
}
