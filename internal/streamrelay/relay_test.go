package streamrelay

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = []byte("hello from peer 1!!\n")

type harness struct {
	bus    *Bus
	worker *Worker
	client *Client
	stop   context.CancelFunc
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	bus := NewBus()
	worker := NewWorker(bus, "http://"+ln.Addr().String(), opts...)

	srv := httptest.NewUnstartedServer(worker)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &harness{bus: bus, worker: worker, client: NewClient(bus, worker), stop: cancel}
}

func testMeta(size int) webrtc.FileMetadata {
	return webrtc.FileMetadata{
		Name:   "hello.txt",
		Size:   int64(size),
		Type:   "text/plain",
		Status: webrtc.StatusInProgress,
	}
}

func (h *harness) open(t *testing.T, meta webrtc.FileMetadata) *WriteStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, err := h.client.CreateWriteStream(ctx, meta)
	require.NoError(t, err)
	t.Cleanup(ws.Close)
	return ws
}

func (h *harness) stream(t *testing.T, id string) *Stream {
	t.Helper()
	s, err := h.worker.lookup(context.Background(), id, true)
	require.NoError(t, err)
	return s
}

func nextEvent(t *testing.T, ws *WriteStream) Message {
	t.Helper()
	select {
	case msg, ok := <-ws.Events():
		require.True(t, ok, "relay events closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
	return Message{}
}

func waitConfirmed(t *testing.T, ws *WriteStream, n int64) {
	t.Helper()
	for {
		msg := nextEvent(t, ws)
		if msg.Kind == KindConfirmedWriteSize && msg.ConfirmedWriteSize == n {
			return
		}
	}
}

// barrier returns once the relay has processed everything posted before it.
func barrier(t *testing.T, ws *WriteStream) {
	t.Helper()
	_, err := ws.Write(nil)
	require.NoError(t, err)
	msg := nextEvent(t, ws)
	require.Equal(t, KindConfirmedWriteSize, msg.Kind)
}

func writeChunks(t *testing.T, ws *WriteStream, data []byte, size int) {
	t.Helper()
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		_, err := ws.Write(data[off:end])
		require.NoError(t, err)
	}
}

func isDone(s *Stream) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func TestStreamClosesOnlyAfterRendezvous(t *testing.T) {
	steps := map[string]func(t *testing.T, ws *WriteStream){
		"bytes": func(t *testing.T, ws *WriteStream) {
			writeChunks(t, ws, payload, 5)
			waitConfirmed(t, ws, int64(len(payload)))
		},
		"read": func(t *testing.T, ws *WriteStream) {
			require.NoError(t, ws.channel.Post(ReadStartedMessage()))
		},
		"done": func(t *testing.T, ws *WriteStream) {
			require.NoError(t, ws.DoneSending())
		},
	}
	orders := [][]string{
		{"bytes", "read", "done"},
		{"bytes", "done", "read"},
		{"read", "bytes", "done"},
		{"read", "done", "bytes"},
		{"done", "bytes", "read"},
		{"done", "read", "bytes"},
	}

	for _, order := range orders {
		t.Run(strings.Join(order, "-"), func(t *testing.T) {
			h := newHarness(t, WithQueueDepth(4))
			ws := h.open(t, testMeta(len(payload)))
			stream := h.stream(t, ws.SessionID())

			for i, step := range order {
				steps[step](t, ws)
				if i < len(order)-1 {
					barrier(t, ws)
					assert.False(t, isDone(stream), "closed after %v", order[:i+1])
				}
			}

			select {
			case <-stream.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("stream did not close after rendezvous")
			}
			require.NoError(t, stream.Err())

			got, err := io.ReadAll(stream)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDoneSendingTwiceIsHarmless(t *testing.T) {
	h := newHarness(t, WithQueueDepth(4))
	ws := h.open(t, testMeta(len(payload)))
	stream := h.stream(t, ws.SessionID())

	writeChunks(t, ws, payload, 5)
	require.NoError(t, ws.channel.Post(ReadStartedMessage()))
	require.NoError(t, ws.DoneSending())
	require.NoError(t, ws.DoneSending())

	<-stream.Done()
	assert.NoError(t, stream.Err())
	assert.NoError(t, ws.DoneSending())
}

func TestRelayStreamsToDownloader(t *testing.T) {
	h := newHarness(t)
	ws := h.open(t, testMeta(len(payload)))
	assert.True(t, strings.HasSuffix(ws.URL(), "/download/"+ws.SessionID()))

	dir := t.TempDir()
	dl := &HTTPDownloader{OutputDir: dir}

	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := dl.Download(context.Background(), ws.URL())
		done <- result{path, err}
	}()

	writeChunks(t, ws, payload, 5)
	require.NoError(t, ws.DoneSending())

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(dir, "hello.txt"), res.path)

	got, err := os.ReadFile(res.path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	var sawRead bool
	var confirmed int64
	for {
		select {
		case msg := <-ws.Events():
			switch msg.Kind {
			case KindReadStarted:
				sawRead = true
			case KindConfirmedWriteSize:
				assert.GreaterOrEqual(t, msg.ConfirmedWriteSize, confirmed)
				confirmed = msg.ConfirmedWriteSize
			}
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.True(t, sawRead)
	assert.Equal(t, int64(len(payload)), confirmed)

	resp, err := http.Get(ws.URL())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadHeaders(t *testing.T) {
	h := newHarness(t)
	meta := testMeta(len(payload))
	meta.Name = `../we"ird:name.txt`
	ws := h.open(t, meta)

	resp, err := http.Head(ws.URL())
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="we_ird_name.txt"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "20", resp.Header.Get("Content-Length"))
}

func TestStreamServedOnce(t *testing.T) {
	h := newHarness(t)
	ws := h.open(t, testMeta(len(payload)))

	_, err := h.worker.lookup(context.Background(), ws.SessionID(), false)
	require.NoError(t, err)

	resp, err := http.Get(ws.URL())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsumerCancelPropagates(t *testing.T) {
	h := newHarness(t, WithQueueDepth(1))
	ws := h.open(t, testMeta(len(payload)))
	stream := h.stream(t, ws.SessionID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ws.URL(), nil)
	require.NoError(t, err)

	type result struct {
		resp *http.Response
		err  error
	}
	started := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		started <- result{resp, err}
	}()

	_, err = ws.Write(payload[:5])
	require.NoError(t, err)

	res := <-started
	require.NoError(t, res.err)
	first := make([]byte, 5)
	_, err = io.ReadFull(res.resp.Body, first)
	require.NoError(t, err)
	assert.Equal(t, payload[:5], first)

	cancel()
	res.resp.Body.Close()

	for {
		msg := nextEvent(t, ws)
		if msg.Kind == KindCancel {
			break
		}
		require.NotEqual(t, KindError, msg.Kind)
	}
	<-stream.Done()
	assert.ErrorIs(t, stream.Err(), ErrStreamCancelled)

	_, err = ws.Write(payload[5:10])
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestOverflowIsWriteFailure(t *testing.T) {
	h := newHarness(t)
	ws := h.open(t, testMeta(4))
	stream := h.stream(t, ws.SessionID())

	_, err := ws.Write([]byte("hello"))
	require.NoError(t, err)

	msg := nextEvent(t, ws)
	assert.Equal(t, KindError, msg.Kind)
	<-stream.Done()
	assert.ErrorIs(t, stream.Err(), ErrWriteOverflow)
}

func TestPageCancelAbortsConsumer(t *testing.T) {
	h := newHarness(t)
	ws := h.open(t, testMeta(len(payload)))
	stream := h.stream(t, ws.SessionID())

	ws.Cancel()

	<-stream.Done()
	_, err := stream.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrStreamAborted)
}

func TestWorkerShutdownAbortsStreams(t *testing.T) {
	h := newHarness(t)
	ws := h.open(t, testMeta(len(payload)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.worker.Ping(ctx))

	h.stop()

	assert.Equal(t, KindError, nextEvent(t, ws).Kind)
	assert.Eventually(t, func() bool {
		return h.worker.PostMessage(context.Background(), Request{SessionID: "late"}) == ErrWorkerStopped
	}, time.Second, 10*time.Millisecond)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\a.txt`:   "a.txt",
		`bad"name?.txt`:       "bad_name_.txt",
		"tab\there.txt":       "tab_here.txt",
		"...":                 fallbackFilename,
		"":                    fallbackFilename,
		"  spaced out.txt.  ": "spaced out.txt",
		"zdjęcie.jpg":         "zdjęcie.jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}
