package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking one-line spinner for the setup steps before a
// transfer view takes over the terminal.
type Spinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func newSpinner(kind spinner.Spinner, interval time.Duration, message string) *Spinner {
	return &Spinner{
		out:      Output,
		spinner:  kind,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner is used while talking to the relay or the peer.
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(spinner.Globe, 180*time.Millisecond, message)
}

// NewWaitingSpinner is used while waiting on the remote user.
func NewWaitingSpinner(message string) *Spinner {
	return newSpinner(spinner.Points, 100*time.Millisecond, message)
}

func (s *Spinner) Start() *Spinner {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		frames := s.spinner.Frames
		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), msg)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
