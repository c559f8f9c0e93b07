package utils

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "20 B", FormatSize(20))
	assert.Equal(t, "5.00 KB", FormatSize(5*1024))
	assert.Equal(t, "1.50 MB", FormatSize(1536*1024))
	assert.Equal(t, "2.00 GB", FormatSize(2*1024*1024*1024))
}

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatTimeDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatTimeDuration(125*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatTimeDuration(time.Hour+time.Second))
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size      int64
		chunkSize int
		want      int64
	}{
		{20, 5, 4},
		{21, 5, 5},
		{4, 5, 1},
		{0, 5, 0},
		{5120 * 3, 5120, 3},
		{5120*3 + 1, 5120, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChunkCount(tt.size, tt.chunkSize), "size=%d chunk=%d", tt.size, tt.chunkSize)
	}
}

func TestGetUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")

	assert.Equal(t, path, GetUniqueFilename(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "report (1).pdf"), GetUniqueFilename(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "report (1).pdf"), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "report (2).pdf"), GetUniqueFilename(path))
}

func TestRelayHeuristics(t *testing.T) {
	assert.True(t, isTunnelName("wg0"))
	assert.True(t, isTunnelName("utun3"))
	assert.False(t, isTunnelName("eth0"))

	assert.True(t, isCGNAT(net.ParseIP("100.64.1.2")))
	assert.False(t, isCGNAT(net.ParseIP("192.168.1.2")))
	assert.False(t, isCGNAT(nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short.txt", TruncateString("short.txt", 20))
	assert.Equal(t, "a-very-l...", TruncateString("a-very-long-name.txt", 11))
	assert.Equal(t, "zaż", TruncateString("zażółć", 3))
}
