// Package gateway serves the real-time WebSocket protocol. Each connection
// is a room.Handle; inbound envelopes are dispatched to the coordinator and
// rooms, and room events are written back as JSON envelopes.
package gateway

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/coedit/internal/idgen"
	"github.com/alfredjeanlab/coedit/internal/room"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = pongWait * 9 / 10
	// opTimeout bounds each dispatched room operation.
	opTimeout = 5 * time.Second
	// sendBuffer is the per-connection outbound queue length.
	sendBuffer = 256
	// maxMessageSize admits a maximum-size code buffer plus envelope.
	maxMessageSize = 2 << 20
)

// Options configures a Gateway.
type Options struct {
	// AllowedOrigins lists acceptable Origin headers. "*" or an empty list
	// accepts any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Gateway upgrades HTTP requests to WebSocket connections bound to a
// coordinator.
type Gateway struct {
	coord    *room.Coordinator
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New returns a Gateway dispatching to coord.
func New(coord *room.Coordinator, opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		coord: coord,
		log:   log,
		conns: make(map[*conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

// originChecker accepts requests without an Origin header and those whose
// origin is in allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		g.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id, err := idgen.HandleID()
	if err != nil {
		g.log.Error("failed to generate connection id", "error", err)
		ws.Close()
		return
	}

	c := newConn(id, ws, g)
	g.track(c)
	defer g.untrack(c)

	g.log.Info("client connected", "conn_id", id, "remote", r.RemoteAddr)
	go c.writePump()
	c.readPump()
	g.log.Info("client disconnected", "conn_id", id)
}

// Connections reports the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every open connection. Each connection's disconnect
// handling still runs, leaving its rooms as a transport drop would.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) track(c *conn) {
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}
