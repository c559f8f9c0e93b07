package streamrelay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/radek00/PeerDrop/internal/webrtc"
)

// DefaultQueueDepth bounds how many chunks a stream holds for a slow consumer.
const DefaultQueueDepth = 16

// Request asks the relay to open a stream for one incoming file.
type Request struct {
	Metadata  webrtc.FileMetadata
	SessionID string
}

type claimRequest struct {
	id    string
	head  bool
	reply chan *Stream
}

// Worker is the relay's background context. It owns every open stream and
// is reached only through its channels.
type Worker struct {
	bus        *Bus
	baseURL    string
	queueDepth int

	requests chan Request
	claims   chan claimRequest
	finished chan string
	pings    chan chan struct{}
	quit     chan struct{}

	// owned by Run
	streams map[string]*entry
}

type entry struct {
	stream  *Stream
	claimed bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueDepth sets how many chunks each stream buffers.
func WithQueueDepth(n int) Option {
	return func(w *Worker) { w.queueDepth = n }
}

// NewWorker creates a relay whose download URLs live under baseURL.
func NewWorker(bus *Bus, baseURL string, opts ...Option) *Worker {
	w := &Worker{
		bus:        bus,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		queueDepth: DefaultQueueDepth,
		requests:   make(chan Request),
		claims:     make(chan claimRequest),
		finished:   make(chan string, 16),
		pings:      make(chan chan struct{}),
		quit:       make(chan struct{}),
		streams:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DownloadURL is where the stream for sessionID is served.
func (w *Worker) DownloadURL(sessionID string) string {
	return w.baseURL + "/download/" + sessionID
}

// Run processes requests until ctx ends. Open streams are aborted on exit.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.quit)
	for {
		select {
		case req := <-w.requests:
			w.open(req)

		case c := <-w.claims:
			c.reply <- w.claim(c.id, c.head)

		case id := <-w.finished:
			delete(w.streams, id)
			slog.Debug("relay session removed", "session", id, "open", len(w.streams))

		case pong := <-w.pings:
			close(pong)

		case <-ctx.Done():
			for id, e := range w.streams {
				e.stream.shutdown()
				delete(w.streams, id)
			}
			return
		}
	}
}

func (w *Worker) open(req Request) {
	if _, exists := w.streams[req.SessionID]; exists {
		slog.Warn("duplicate relay session request", "session", req.SessionID)
		return
	}
	channel := w.bus.Open(req.SessionID)
	s := newStream(channel, req.SessionID, w.DownloadURL(req.SessionID), req.Metadata, w.queueDepth, w.onFinish)
	w.streams[req.SessionID] = &entry{stream: s}
	slog.Debug("relay session opened", "session", req.SessionID, "size", req.Metadata.Size)
	s.start()
}

func (w *Worker) claim(id string, head bool) *Stream {
	e, ok := w.streams[id]
	if !ok || e.claimed {
		return nil
	}
	if !head {
		e.claimed = true
	}
	return e.stream
}

func (w *Worker) onFinish(id string) {
	select {
	case w.finished <- id:
	case <-w.quit:
	}
}

// PostMessage hands a request to the relay.
func (w *Worker) PostMessage(ctx context.Context, req Request) error {
	select {
	case w.requests <- req:
		return nil
	case <-w.quit:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping returns once the relay loop is responsive.
func (w *Worker) Ping(ctx context.Context) error {
	pong := make(chan struct{})
	select {
	case w.pings <- pong:
	case <-w.quit:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-pong:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup fetches the stream for id. Unless head is set the stream is claimed,
// so a second GET for the same session finds nothing.
func (w *Worker) lookup(ctx context.Context, id string, head bool) (*Stream, error) {
	c := claimRequest{id: id, head: head, reply: make(chan *Stream, 1)}
	select {
	case w.claims <- c:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s := <-c.reply
	if s == nil {
		return nil, ErrUnknownSession
	}
	return s, nil
}
