package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/coedit/internal/room"
)

// conn is one WebSocket client. It implements room.Handle.
type conn struct {
	id  string
	ws  *websocket.Conn
	gw  *Gateway
	log *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Sessions this connection has joined. Only touched by readPump.
	joined map[string]*membership
}

type membership struct {
	room *room.Room
	name string
}

// Compile-time check that conn implements room.Handle.
var _ room.Handle = (*conn)(nil)

func newConn(id string, ws *websocket.Conn, gw *Gateway) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		gw:     gw,
		log:    gw.log.With("conn_id", id),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]*membership),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues ev for the writer. Events for a closed or saturated
// connection are dropped.
func (c *conn) Send(ev room.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn("failed to encode event", "event", ev.Name, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warn("dropping event for slow client", "event", ev.Name)
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads and dispatches inbound envelopes in order until the
// connection fails, then leaves every joined session.
func (c *conn) readPump() {
	defer func() {
		c.disconnect()
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		c.dispatch(data)
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings. It owns all writes to ws.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// disconnect leaves every joined session without touching rosters.
func (c *conn) disconnect() {
	for sessionID := range c.joined {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		err := c.gw.coord.Leave(ctx, sessionID, c, false)
		cancel()
		if err != nil && !errors.Is(err, room.ErrCoordinatorClosed) {
			c.log.Warn("failed to leave session on disconnect", "session_id", sessionID, "error", err)
		}
		delete(c.joined, sessionID)
	}
}
