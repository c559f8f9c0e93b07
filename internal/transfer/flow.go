package transfer

import (
	"context"
	"sync"
)

// FlowController bounds how far the sender may run ahead of the receiver's
// confirmed write position. A window of zero or less disables it.
type FlowController struct {
	mu        sync.Mutex
	window    int64
	sent      int64
	confirmed int64
	changed   chan struct{}
}

func NewFlowController(window int64) *FlowController {
	return &FlowController{
		window:  window,
		changed: make(chan struct{}),
	}
}

// Sent records n more bytes handed to the transport.
func (f *FlowController) Sent(n int64) {
	f.mu.Lock()
	f.sent += n
	f.mu.Unlock()
}

// Confirm records an acknowledgement. Stale acks are ignored and acks past
// what was sent are clamped; it reports whether the ack was accepted as is.
func (f *FlowController) Confirm(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= f.confirmed {
		return n == f.confirmed
	}
	ok := true
	if n > f.sent {
		n = f.sent
		ok = false
	}
	f.confirmed = n
	close(f.changed)
	f.changed = make(chan struct{})
	return ok
}

func (f *FlowController) BytesSent() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *FlowController) BytesConfirmed() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed
}

// InFlight is the unacknowledged byte count.
func (f *FlowController) InFlight() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent - f.confirmed
}

// Wait blocks while the unacknowledged gap fills the window.
func (f *FlowController) Wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.window <= 0 || f.sent-f.confirmed < f.window {
			f.mu.Unlock()
			return nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
