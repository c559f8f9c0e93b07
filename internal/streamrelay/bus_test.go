package streamrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, c *BusChannel) Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "bus channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
	}
	return Message{}
}

func TestBusDeliversToOthersInOrder(t *testing.T) {
	bus := NewBus()
	page := bus.Open("s1")
	relay := bus.Open("s1")
	other := bus.Open("s2")
	defer page.Close()
	defer relay.Close()
	defer other.Close()

	for i := 1; i <= 3; i++ {
		require.NoError(t, page.Post(ConfirmedMessage(int64(i))))
	}

	for i := 1; i <= 3; i++ {
		assert.Equal(t, int64(i), recv(t, relay).ConfirmedWriteSize)
	}

	select {
	case msg := <-page.Messages():
		t.Fatalf("poster received its own message %+v", msg)
	case msg := <-other.Messages():
		t.Fatalf("other topic received %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsMessagesWithoutListener(t *testing.T) {
	bus := NewBus()
	page := bus.Open("s1")
	defer page.Close()

	require.NoError(t, page.Post(DownloadMessage("lost")))

	late := bus.Open("s1")
	defer late.Close()
	require.NoError(t, page.Post(DownloadMessage("seen")))
	assert.Equal(t, "seen", recv(t, late).Download)
}

func TestBusCopiesChunkData(t *testing.T) {
	bus := NewBus()
	page := bus.Open("s1")
	relay := bus.Open("s1")
	defer page.Close()
	defer relay.Close()

	data := []byte("hello")
	require.NoError(t, page.Post(ChunkMessage(data)))
	data[0] = 'j'

	assert.Equal(t, []byte("hello"), recv(t, relay).ChunkData)
}

func TestBusChannelClose(t *testing.T) {
	bus := NewBus()
	c := bus.Open("s1")
	assert.Equal(t, 1, bus.Subscribers("s1"))

	c.Close()
	c.Close()

	assert.Equal(t, 0, bus.Subscribers("s1"))
	assert.ErrorIs(t, c.Post(CancelMessage()), ErrBusChannelClosed)
	_, ok := <-c.Messages()
	assert.False(t, ok)
}
