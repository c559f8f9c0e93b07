package streamrelay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/radek00/PeerDrop/internal/utils"
)

// Downloader starts fetching a relay URL and returns where the bytes went.
type Downloader interface {
	Download(ctx context.Context, url string) (string, error)
}

// HTTPDownloader saves relay downloads into OutputDir.
type HTTPDownloader struct {
	Client    *http.Client
	OutputDir string
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) (string, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	name, err := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if err != nil {
		name = fallbackFilename
	}

	if err := os.MkdirAll(d.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := utils.GetUniqueFilename(filepath.Join(d.OutputDir, name))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("remove partial download", "path", path, "error", rmErr)
		}
		return "", fmt.Errorf("download %s: %w", name, err)
	}

	slog.Debug("download saved", "path", path, "bytes", n)
	return path, nil
}
