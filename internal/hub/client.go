package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/radek00/PeerDrop/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // enough for SDP messages

	sendBuffer = 256
)

// Client is a wrapper for a single websocket connection (a peer)
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// scope groups peers behind the same network address
	scope string

	// set by the hub on join
	id         string
	name       string
	clientType string

	send chan *signaling.Message
}

func newClient(h *Hub, conn *websocket.Conn, scope string) *Client {
	return &Client{
		hub:   h,
		conn:  conn,
		scope: scope,
		send:  make(chan *signaling.Message, sendBuffer),
	}
}

func (c *Client) info() signaling.PeerInfo {
	return signaling.PeerInfo{ID: c.id, Name: c.name, ClientType: c.clientType}
}

// readPump pumps messages from the websocket connection to the hub.
//
// It runs in a per-connection goroutine, so there is at most one reader on a
// connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "remote", c.conn.RemoteAddr(), "error", err)
			}
			return
		}
		if !c.hub.dispatch(inbound{client: c, msg: &msg}) {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection. It is
// the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				slog.Debug("websocket write failed", "remote", c.conn.RemoteAddr(), "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
