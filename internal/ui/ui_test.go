package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/radek00/PeerDrop/internal/history"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/radek00/PeerDrop/internal/webrtc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var offered = webrtc.FileMetadata{
	Name:         "notes.txt",
	Size:         20,
	Type:         "text/plain",
	LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	Status:       webrtc.StatusPending,
}

func TestPromptConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"empty accepts", "\n", true},
		{"yes", "y\n", true},
		{"no", "n\n", false},
		{"NO", " NO \n", false},
		{"eof declines", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompt(strings.NewReader(tt.input), &out)
			p.From = "Brave Otter"

			got, err := p.Confirm(context.Background(), offered)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "notes.txt")
			assert.Contains(t, out.String(), "Brave Otter")
		})
	}
}

func TestPromptConfirmHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPrompt(r, io.Discard).Confirm(ctx, offered)
	assert.ErrorIs(t, err, context.Canceled)
}

// questionWriter signals every time a question is printed.
type questionWriter chan struct{}

func (q questionWriter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("[Y/n]")) {
		q <- struct{}{}
	}
	return len(p), nil
}

func TestPromptAnswerAfterAbandonedQuestion(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	asked := make(questionWriter, 2)
	p := NewPrompt(r, asked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Confirm(ctx, offered)
	require.ErrorIs(t, err, context.Canceled)
	<-asked

	got := make(chan bool, 1)
	go func() {
		ok, err := p.Confirm(context.Background(), offered)
		assert.NoError(t, err)
		got <- ok
	}()
	<-asked

	_, err = io.WriteString(w, "n\n")
	require.NoError(t, err)

	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("second question never got the answer")
	}
}

func TestAutoAccept(t *testing.T) {
	ok, err := AutoAccept{}.Confirm(context.Background(), offered)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransferModelLifecycle(t *testing.T) {
	cancelled := 0
	m := NewTransferModel(ModeSend, "notes.txt", 20, func() { cancelled++ })

	assert.Contains(t, m.View(), "Waiting for the receiver")

	m.Update(TransferUpdate{Type: UpdatePeer, Message: "Brave Otter"})
	m.Update(TransferUpdate{Type: UpdateStatus, Status: webrtc.StatusInProgress})
	m.Update(TransferUpdate{Type: UpdateProgress, Bytes: 10})
	view := m.View()
	assert.Contains(t, view, "Brave Otter")
	assert.Contains(t, view, "50.0%")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "Cancelling")

	_, cmd := m.Update(TransferUpdate{Type: UpdateDone, Status: webrtc.StatusCancelled, Err: errors.New("cancelled by user")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, m.View(), "Transfer cancelled")
	assert.Contains(t, m.View(), "cancelled by user")
}

func TestTransferModelCompleteFillsBar(t *testing.T) {
	m := NewTransferModel(ModeReceive, "notes.txt", 20, nil)
	m.Update(TransferUpdate{Type: UpdateStatus, Status: webrtc.StatusInProgress})
	m.Update(TransferUpdate{Type: UpdateDone, Status: webrtc.StatusCompleted})
	assert.Equal(t, int64(20), m.sent)
	assert.Contains(t, m.View(), "Transfer complete")
}

func TestTransferViewRunsHeadless(t *testing.T) {
	var out bytes.Buffer
	v := NewTransferView(&out, false, NewTransferModel(ModeSend, "notes.txt", 20, nil))
	v.Start()
	v.Status(offered.WithStatus(webrtc.StatusInProgress))
	v.Progress(20)

	done := make(chan struct{})
	go func() {
		v.Finish(webrtc.StatusCompleted, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("view did not exit")
	}
}

func TestRenderHistory(t *testing.T) {
	var out bytes.Buffer
	RenderHistory(&out, nil)
	assert.Contains(t, out.String(), "No transfers")

	out.Reset()
	RenderHistory(&out, []history.Record{
		{Direction: history.DirectionSend, FileName: "a.bin", PeerName: "Calm Fox", Size: 2048, Bytes: 2048, Status: webrtc.StatusCompleted, FinishedAt: time.Now()},
		{Direction: history.DirectionReceive, FileName: "b.bin", Size: 10, Status: webrtc.StatusError, Error: "transfer stalled", FinishedAt: time.Now()},
	})
	s := out.String()
	assert.Contains(t, s, "a.bin")
	assert.Contains(t, s, "Calm Fox")
	assert.Contains(t, s, "transfer stalled")
	assert.Contains(t, s, "2.00 KB")
}

func TestRenderPeers(t *testing.T) {
	var out bytes.Buffer
	RenderPeers(&out,
		signaling.PeerInfo{ID: "me", Name: "Quiet Heron", ClientType: "cli"},
		[]signaling.PeerInfo{{ID: "p1", Name: "Swift Lynx", ClientType: "cli"}},
	)
	s := out.String()
	assert.Contains(t, s, "Quiet Heron (you)")
	assert.Contains(t, s, "Swift Lynx")
	assert.Contains(t, s, "p1")
}

func TestTransferSummaryView(t *testing.T) {
	v := TransferSummaryView(TransferSummary{
		Status:   webrtc.StatusCompleted,
		File:     "notes.txt",
		Size:     20,
		Bytes:    20,
		Duration: 2 * time.Second,
		Path:     "/tmp/notes.txt",
	})
	assert.Contains(t, v, "complete")
	assert.Contains(t, v, "10 B/s")
	assert.Contains(t, v, "/tmp/notes.txt")
}
