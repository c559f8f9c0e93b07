package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store, path
}

func TestAddAndGet(t *testing.T) {
	store, _ := newTestStore(t)

	started := time.UnixMilli(1_700_000_000_000)
	rec, err := store.Add(Record{
		Direction: DirectionReceive,
		PeerName:  "Brave Otter",
		FileName:  "notes.txt",
		Size:      20,
		Bytes:     20,
		Status:    webrtc.StatusCompleted,
		Path:      "/tmp/notes.txt",
		StartedAt: started,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.FinishedAt.IsZero())

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, DirectionReceive, got.Direction)
	assert.Equal(t, "Brave Otter", got.PeerName)
	assert.Equal(t, int64(20), got.Bytes)
	assert.Equal(t, webrtc.StatusCompleted, got.Status)
	assert.Equal(t, "/tmp/notes.txt", got.Path)
	assert.True(t, started.Equal(got.StartedAt))
}

func TestAddValidates(t *testing.T) {
	store, _ := newTestStore(t)

	tests := []struct {
		name string
		rec  Record
	}{
		{"missing name", Record{Direction: DirectionSend, Status: webrtc.StatusCompleted}},
		{"bad direction", Record{Direction: "sideways", FileName: "a", Status: webrtc.StatusCompleted}},
		{"bad status", Record{Direction: DirectionSend, FileName: "a", Status: "done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Add(tt.rec)
			assert.Error(t, err)
		})
	}
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirstAndPrune(t *testing.T) {
	store, _ := newTestStore(t)

	base := time.UnixMilli(1_700_000_000_000)
	for i, name := range []string{"old.bin", "mid.bin", "new.bin"} {
		_, err := store.Add(Record{
			Direction:  DirectionSend,
			FileName:   name,
			Status:     webrtc.StatusCancelled,
			FinishedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	recs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "new.bin", recs[0].FileName)
	assert.Equal(t, "old.bin", recs[2].FileName)

	recs, err = store.List(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	n, err := store.Prune(base.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err = store.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new.bin", recs[0].FileName)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Add(Record{Direction: DirectionSend, FileName: "a.txt", Status: webrtc.StatusRejected})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	recs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, webrtc.StatusRejected, recs[0].Status)
}
