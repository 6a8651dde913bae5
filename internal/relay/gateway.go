// Package relay exposes the connection gateway: the HTTP handlers that
// terminate client connections and hand sessions to the hub.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Gateway accepts client connections at the upgrade endpoint, allocates
// session identities, and attaches sessions to the hub. It holds no room
// state of its own.
type Gateway struct {
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// NewGateway builds a gateway for the given hub and configuration.
func NewGateway(hub *Hub, cfg Config) *Gateway {
	policy := newOriginPolicy(cfg.AllowedOrigins)
	return &Gateway{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

// HandleWebSocket upgrades the connection and registers a fresh session.
// The upgrade reads the request directly off the wire, so nothing that
// buffers request bodies may be mounted in front of this handler.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s := NewSession(conn, g.hub, r.RemoteAddr, g.cfg)
	g.hub.Attach(s)
}

// HandleHealth reports process liveness.
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "collab relay is running")
}

// HandleStats reports live room and session counts.
func (g *Gateway) HandleStats(w http.ResponseWriter, _ *http.Request) {
	rooms, sessions := g.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"rooms":    rooms,
		"sessions": sessions,
	})
}
