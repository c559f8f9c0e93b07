package hub

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Peers are scoped by address, not by origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Routes mounts the websocket endpoint on /ws and liveness on /health.
func Routes(h *Hub, trustProxy bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(h, trustProxy))
	mux.HandleFunc("/health", HealthCheck(h))
	return mux
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and
// hands the connection to the hub.
func ServeWs(h *Hub, trustProxy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := newClient(h, conn, scopeFor(r, trustProxy))
		if !h.registerClient(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// HealthCheck reports liveness together with a hub snapshot.
func HealthCheck(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.Stats(r.Context())
		if err != nil {
			http.Error(w, "hub not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			Stats
		}{Status: "ok", Stats: stats})
	}
}

// scopeFor returns the network address that groups r's peer with others.
// Behind a reverse proxy the first X-Forwarded-For hop is the client.
func scopeFor(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			if ip := net.ParseIP(strings.TrimSpace(xr)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
