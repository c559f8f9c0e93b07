package streamrelay

import (
	"io"
	"log/slog"
	"sync"

	"github.com/radek00/PeerDrop/internal/webrtc"
)

type streamEvent int

const (
	eventReadStarted streamEvent = iota
	eventCancel
	eventShutdown
)

// Stream is the relay side of one session: a bounded chunk queue fed from the
// bus and drained by the download consumer through Read.
type Stream struct {
	id      string
	url     string
	meta    webrtc.FileMetadata
	channel *BusChannel
	log     *slog.Logger

	chunks   chan []byte
	events   chan streamEvent
	done     chan struct{}
	aborted  chan struct{}
	onFinish func(id string)

	errMu sync.Mutex
	err   error

	// consumer side
	pending  []byte
	readOnce sync.Once

	// owned by run
	bytesWritten int64
	readStarted  bool
	clientDone   bool
	closed       bool
}

func newStream(bus *BusChannel, id, url string, meta webrtc.FileMetadata, queueDepth int, onFinish func(string)) *Stream {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Stream{
		id:       id,
		url:      url,
		meta:     meta,
		channel:  bus,
		log:      slog.With("session", id, "file", meta.Name),
		chunks:   make(chan []byte, queueDepth),
		events:   make(chan streamEvent),
		done:     make(chan struct{}),
		aborted:  make(chan struct{}),
		onFinish: onFinish,
	}
}

func (s *Stream) ID() string                    { return s.id }
func (s *Stream) URL() string                   { return s.url }
func (s *Stream) Metadata() webrtc.FileMetadata { return s.meta }

// Done is closed once the stream has finished, successfully or not.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended, nil after a clean close.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// start announces the download URL and begins relaying. The bus channel is
// already subscribed, so nothing the page posts in reply can be missed.
func (s *Stream) start() {
	if err := s.channel.Post(DownloadMessage(s.url)); err != nil {
		s.log.Warn("announce download url", "error", err)
	}
	go s.run()
}

func (s *Stream) run() {
	for !s.closed {
		select {
		case msg, ok := <-s.channel.Messages():
			if !ok {
				s.finish(ErrStreamClosed)
				return
			}
			s.handle(msg)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Stream) handle(msg Message) {
	switch msg.Kind {
	case KindChunkData:
		s.write(msg.ChunkData)
	case KindReadStarted:
		s.readStarted = true
		s.attemptClose()
	case KindClientDoneSending:
		if s.clientDone {
			s.log.Debug("duplicate clientDoneSending")
		}
		s.clientDone = true
		s.attemptClose()
	case KindCancel, KindError:
		s.log.Info("page aborted stream", "kind", msg.Kind, "reason", msg.Reason)
		s.finish(ErrStreamAborted)
	default:
		s.log.Warn("ignoring unexpected bus message", "kind", msg.Kind)
	}
}

func (s *Stream) handleEvent(ev streamEvent) {
	switch ev {
	case eventReadStarted:
		if !s.readStarted {
			s.readStarted = true
			s.post(ReadStartedMessage())
		}
		s.attemptClose()
	case eventCancel:
		s.log.Info("download consumer cancelled", "bytes", s.bytesWritten)
		s.post(CancelMessage())
		s.finish(ErrStreamCancelled)
	case eventShutdown:
		s.post(ErrorMessage("relay shutting down"))
		s.finish(ErrWorkerStopped)
	}
}

func (s *Stream) write(data []byte) {
	if s.closed {
		s.fail(ErrStreamClosed)
		return
	}
	n := int64(len(data))
	if s.bytesWritten+n > s.meta.Size {
		s.fail(ErrWriteOverflow)
		return
	}
	if n == 0 {
		s.post(ConfirmedMessage(s.bytesWritten))
		return
	}

	for {
		select {
		case s.chunks <- data:
			s.bytesWritten += n
			s.post(ConfirmedMessage(s.bytesWritten))
			s.attemptClose()
			return
		case ev := <-s.events:
			s.handleEvent(ev)
			if s.closed {
				return
			}
		}
	}
}

// attemptClose closes the stream once every byte was written, the consumer
// started reading, and the page finished sending. Any order, at most once.
func (s *Stream) attemptClose() {
	if s.closed {
		return
	}
	if s.bytesWritten >= s.meta.Size && s.readStarted && s.clientDone {
		s.log.Debug("stream complete", "bytes", s.bytesWritten)
		s.finish(nil)
	}
}

func (s *Stream) fail(err error) {
	s.log.Warn("stream write failed", "error", err, "bytes", s.bytesWritten)
	s.post(ErrorMessage(err.Error()))
	s.finish(err)
}

func (s *Stream) finish(err error) {
	if s.closed {
		return
	}
	s.closed = true

	if err == nil {
		close(s.chunks)
	} else {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.aborted)
	}
	s.channel.Close()
	close(s.done)
	if s.onFinish != nil {
		s.onFinish(s.id)
	}
}

func (s *Stream) post(msg Message) {
	if err := s.channel.Post(msg); err != nil {
		s.log.Debug("post after close", "kind", msg.Kind)
	}
}

func (s *Stream) notify(ev streamEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Read implements io.Reader for the download consumer. The first call marks
// the stream as being read. It returns io.EOF after a clean close and the
// abort reason otherwise.
func (s *Stream) Read(p []byte) (int, error) {
	s.readOnce.Do(func() { s.notify(eventReadStarted) })

	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return 0, io.EOF
			}
			s.pending = chunk
		case <-s.aborted:
			return 0, s.Err()
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Cancel reports that the download consumer went away.
func (s *Stream) Cancel() {
	s.notify(eventCancel)
}

func (s *Stream) shutdown() {
	s.notify(eventShutdown)
}
