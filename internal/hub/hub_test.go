package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/radek00/PeerDrop/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, trustProxy bool) *httptest.Server {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(Routes(h, trustProxy))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn}
}

func (p *peer) send(msgType string, payload any, target string) {
	p.t.Helper()
	msg, err := signaling.NewMessage(msgType, payload, target)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

func (p *peer) next() *signaling.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg signaling.Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))
	return &msg
}

func (p *peer) expectNothing() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var msg signaling.Message
	err := p.conn.ReadJSON(&msg)
	require.Error(p.t, err, "unexpected message %+v", msg)
}

func (p *peer) join() signaling.JoinedPayload {
	p.t.Helper()
	p.send(signaling.MessageTypeJoin, signaling.JoinPayload{ClientType: "cli"}, "")
	msg := p.next()
	require.Equal(p.t, signaling.MessageTypeJoined, msg.Type)
	var joined signaling.JoinedPayload
	require.NoError(p.t, msg.Decode(&joined))
	return joined
}

func TestJoinAnnouncesPeers(t *testing.T) {
	srv := startHub(t, false)

	alice := dial(t, srv, nil)
	a := alice.join()
	assert.NotEmpty(t, a.Self.ID)
	assert.Regexp(t, `^[A-Z][a-z]+ [A-Z][a-z]+$`, a.Self.Name)
	assert.Empty(t, a.Peers)

	bob := dial(t, srv, nil)
	b := bob.join()
	require.Len(t, b.Peers, 1)
	assert.Equal(t, a.Self, b.Peers[0])
	assert.NotEqual(t, a.Self.Name, b.Self.Name)

	msg := alice.next()
	require.Equal(t, signaling.MessageTypePeerJoined, msg.Type)
	var joined signaling.PeerInfo
	require.NoError(t, msg.Decode(&joined))
	assert.Equal(t, b.Self, joined)
}

func TestSignalsAreRoutedWithSender(t *testing.T) {
	srv := startHub(t, false)
	alice := dial(t, srv, nil)
	a := alice.join()
	bob := dial(t, srv, nil)
	b := bob.join()
	alice.next() // peer_joined

	offer := map[string]string{"type": "offer", "sdp": "v=0"}
	alice.send(signaling.MessageTypeOffer, offer, b.Self.ID)

	msg := bob.next()
	assert.Equal(t, signaling.MessageTypeOffer, msg.Type)
	assert.Equal(t, a.Self.ID, msg.SenderID)
	assert.Empty(t, msg.TargetID)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, offer, got)

	bob.send(signaling.MessageTypeAnswer, map[string]string{"type": "answer"}, a.Self.ID)
	assert.Equal(t, signaling.MessageTypeAnswer, alice.next().Type)
}

func TestSignalToUnknownPeerIsDropped(t *testing.T) {
	srv := startHub(t, false)
	alice := dial(t, srv, nil)
	alice.join()

	alice.send(signaling.MessageTypeICECandidate, map[string]string{"candidate": "x"}, "nobody")
	alice.expectNothing()
}

func TestSignalBeforeJoinIsError(t *testing.T) {
	srv := startHub(t, false)
	alice := dial(t, srv, nil)

	alice.send(signaling.MessageTypeOffer, map[string]string{}, "someone")
	msg := alice.next()
	require.Equal(t, signaling.MessageTypeError, msg.Type)
	var e signaling.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Contains(t, e.Error, "join")
}

func TestPeerLeftIsBroadcast(t *testing.T) {
	srv := startHub(t, false)
	alice := dial(t, srv, nil)
	alice.join()
	bob := dial(t, srv, nil)
	b := bob.join()
	alice.next() // peer_joined

	bob.conn.Close()

	msg := alice.next()
	require.Equal(t, signaling.MessageTypePeerLeft, msg.Type)
	var left signaling.PeerLeftPayload
	require.NoError(t, msg.Decode(&left))
	assert.Equal(t, b.Self.ID, left.ID)
}

func TestPeersAreScopedByAddress(t *testing.T) {
	srv := startHub(t, true)

	home := http.Header{"X-Forwarded-For": {"203.0.113.7"}}
	office := http.Header{"X-Forwarded-For": {"198.51.100.1, 10.0.0.1"}}

	alice := dial(t, srv, home)
	a := alice.join()
	carol := dial(t, srv, office)
	c := carol.join()
	assert.Empty(t, c.Peers)

	carol.send(signaling.MessageTypeOffer, map[string]string{"type": "offer"}, a.Self.ID)
	alice.expectNothing()

	bob := dial(t, srv, home)
	b := bob.join()
	require.Len(t, b.Peers, 1)
	assert.Equal(t, a.Self.ID, b.Peers[0].ID)
}

func TestHealth(t *testing.T) {
	srv := startHub(t, false)
	alice := dial(t, srv, nil)
	alice.join()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Stats
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Peers)
	assert.Equal(t, 1, body.Connections)
}

func TestScopeFor(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		header     http.Header
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.168.1.5:5000", nil, false, "192.168.1.5"},
		{"ignores forwarded when untrusted", "10.0.0.2:1", http.Header{"X-Forwarded-For": {"1.2.3.4"}}, false, "10.0.0.2"},
		{"first forwarded hop", "10.0.0.2:1", http.Header{"X-Forwarded-For": {"1.2.3.4, 10.0.0.9"}}, true, "1.2.3.4"},
		{"real ip", "10.0.0.2:1", http.Header{"X-Real-Ip": {"5.6.7.8"}}, true, "5.6.7.8"},
		{"garbage forwarded", "10.0.0.2:1", http.Header{"X-Forwarded-For": {"nope"}}, true, "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header[k] = v
			}
			assert.Equal(t, tt.want, scopeFor(r, tt.trustProxy))
		})
	}
}

func TestGenerateNameAvoidsTaken(t *testing.T) {
	taken := make(map[string]bool)
	for _, adj := range adjectives {
		for _, animal := range animals {
			taken[title(adj)+" "+title(animal)] = true
		}
	}
	name := generateName(taken)
	assert.False(t, taken[name])
	assert.Regexp(t, `^[A-Z][a-z]+ [A-Z][a-z]+ \d+$`, name)
}
