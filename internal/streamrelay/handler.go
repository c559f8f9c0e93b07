package streamrelay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

const downloadPrefix = "/download/"

// ServeHTTP serves GET and HEAD for /download/<session>. A session can be
// fetched once; the body is streamed as chunks arrive.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, downloadPrefix) {
		http.NotFound(rw, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, downloadPrefix)
	head := r.Method == http.MethodHead
	stream, err := w.lookup(r.Context(), id, head)
	if err != nil {
		if errors.Is(err, ErrUnknownSession) {
			http.NotFound(rw, r)
			return
		}
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}

	setDownloadHeaders(rw.Header(), stream)
	rw.WriteHeader(http.StatusOK)
	if head {
		return
	}

	go func() {
		select {
		case <-r.Context().Done():
			stream.Cancel()
		case <-stream.Done():
		}
	}()

	flusher, _ := rw.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := rw.Write(buf[:n]); werr != nil {
				slog.Debug("download consumer write failed", "session", id, "error", werr)
				stream.Cancel()
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			slog.Info("download stream ended early", "session", id, "error", err)
			// Abort so the client sees a truncated body instead of a clean end.
			panic(http.ErrAbortHandler)
		}
	}
}

func setDownloadHeaders(h http.Header, s *Stream) {
	meta := s.Metadata()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="`+SanitizeFilename(meta.Name)+`"`)
	h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
}

// filenameFromDisposition extracts the filename parameter of a
// Content-Disposition header.
func filenameFromDisposition(header string) (string, error) {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", fmt.Errorf("parse content-disposition: %w", err)
	}
	name := params["filename"]
	if name == "" {
		return "", fmt.Errorf("content-disposition has no filename")
	}
	return SanitizeFilename(name), nil
}
