package files

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/radek00/PeerDrop/internal/webrtc"
)

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string

	// ModTime is the last modification time
	ModTime time.Time
}

// ValidateFile checks that path names a readable, non-empty regular file and
// returns its info.
func ValidateFile(path string) (FileInfo, error) {
	if path == "" {
		return FileInfo{}, fmt.Errorf("no file specified")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory (only single files can be sent)", path)
	}

	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return FileInfo{
		Path:    absPath,
		Name:    filepath.Base(absPath),
		Size:    stat.Size(),
		Type:    DetectType(absPath),
		ModTime: stat.ModTime(),
	}, nil
}

// DetectType guesses the MIME type from the file extension.
func DetectType(path string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		// Default to binary if unknown
		mimeType = "application/octet-stream"
	}
	return mimeType
}

// Metadata is the offer describing f, in the pending state.
func (f FileInfo) Metadata() webrtc.FileMetadata {
	return webrtc.FileMetadata{
		Name:         f.Name,
		Size:         f.Size,
		Type:         f.Type,
		LastModified: f.ModTime.UnixMilli(),
		Status:       webrtc.StatusPending,
	}
}
