package transfer

import (
	"sync/atomic"
	"time"
)

// watchdog flags a transfer that made no progress for timeout. It only
// counts once armed, so time spent waiting for the user is not a stall.
type watchdog struct {
	timeout time.Duration
	ticker  *time.Ticker
	armed   atomic.Bool
	last    atomic.Int64
}

func newWatchdog(timeout time.Duration) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.ticker = time.NewTicker(max(timeout/4, 10*time.Millisecond))
	}
	w.Touch()
	return w
}

// C ticks while the watchdog is enabled; nil otherwise.
func (w *watchdog) C() <-chan time.Time {
	if w.ticker == nil {
		return nil
	}
	return w.ticker.C
}

func (w *watchdog) Arm() {
	w.Touch()
	w.armed.Store(true)
}

func (w *watchdog) Touch() {
	w.last.Store(time.Now().UnixNano())
}

func (w *watchdog) Expired() bool {
	if w.ticker == nil || !w.armed.Load() {
		return false
	}
	return time.Since(time.Unix(0, w.last.Load())) > w.timeout
}

func (w *watchdog) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
}
