package server

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/coedit/internal/events"
)

const (
	// streamBacklogPerSession is how many recent events each session keeps
	// for Last-Event-ID resume.
	streamBacklogPerSession = 128

	// streamBacklogSessions caps how many sessions keep a backlog; the
	// session that went quiet longest is forgotten first.
	streamBacklogSessions = 512

	// streamClientBuffer is the per-client delivery queue. Events beyond it
	// are dropped for that client.
	streamClientBuffer = 64

	streamKeepalive = 15 * time.Second
)

// streamEvent is one session event as sent on the event stream.
type streamEvent struct {
	seq     uint64
	session string
	kind    string
	data    []byte // JSON payload
}

func (e *streamEvent) topic() string { return events.SessionTopic(e.session, e.kind) }

// streamFilter selects events by session id and kind. An empty set matches
// everything.
type streamFilter struct {
	sessions map[string]bool
	kinds    map[string]bool
}

func (f streamFilter) match(e *streamEvent) bool {
	return (len(f.sessions) == 0 || f.sessions[e.session]) &&
		(len(f.kinds) == 0 || f.kinds[e.kind])
}

// parseStreamFilter reads the "session" and "kind" query parameters. Both
// repeat or take comma-separated lists.
func parseStreamFilter(q url.Values) (streamFilter, error) {
	var f streamFilter
	for _, id := range splitParam(q["session"]) {
		if f.sessions == nil {
			f.sessions = make(map[string]bool)
		}
		f.sessions[id] = true
	}
	for _, kind := range splitParam(q["kind"]) {
		if !events.IsKind(kind) {
			return streamFilter{}, fmt.Errorf("unknown event kind %q", kind)
		}
		if f.kinds == nil {
			f.kinds = make(map[string]bool)
		}
		f.kinds[kind] = true
	}
	return f, nil
}

func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// sessionBacklog holds one session's most recent events, oldest first.
type sessionBacklog struct {
	events []*streamEvent
}

func (b *sessionBacklog) newest() uint64 {
	if len(b.events) == 0 {
		return 0
	}
	return b.events[len(b.events)-1].seq
}

// streamClient is one connected event stream.
type streamClient struct {
	filter streamFilter
	ch     chan *streamEvent
}

// sseHub numbers session events, fans them out to stream clients, and keeps
// a short backlog per session so a reconnecting client can resume.
type sseHub struct {
	mu       sync.Mutex
	seq      uint64
	backlogs map[string]*sessionBacklog
	clients  map[*streamClient]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{
		backlogs: make(map[string]*sessionBacklog),
		clients:  make(map[*streamClient]struct{}),
	}
}

// broadcast records a session event and delivers it to every matching
// client without blocking. Topics outside the session namespace are dropped.
func (h *sseHub) broadcast(topic string, payload []byte) {
	sessionID, kind, ok := events.ParseTopic(topic)
	if !ok {
		slog.Warn("dropping non-session event from stream", "topic", topic)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	evt := &streamEvent{seq: h.seq, session: sessionID, kind: kind, data: payload}
	h.remember(evt)

	for c := range h.clients {
		if !c.filter.match(evt) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
}

// remember appends evt to its session's backlog. Caller holds h.mu.
func (h *sseHub) remember(evt *streamEvent) {
	b, ok := h.backlogs[evt.session]
	if !ok {
		if len(h.backlogs) >= streamBacklogSessions {
			h.forgetQuietest()
		}
		b = &sessionBacklog{}
		h.backlogs[evt.session] = b
	}
	b.events = append(b.events, evt)
	if n := len(b.events) - streamBacklogPerSession; n > 0 {
		b.events = slices.Delete(b.events, 0, n)
	}
}

// forgetQuietest drops the backlog whose newest event is oldest.
func (h *sseHub) forgetQuietest() {
	var (
		victim string
		oldest uint64
	)
	for id, b := range h.backlogs {
		if victim == "" || b.newest() < oldest {
			victim, oldest = id, b.newest()
		}
	}
	delete(h.backlogs, victim)
}

// subscribe registers a client for f. With resume set it also returns the
// backlogged events after seq that match f, in order, captured under the
// same lock as the registration so nothing is missed or repeated.
func (h *sseHub) subscribe(f streamFilter, resume bool, after uint64) (*streamClient, []*streamEvent) {
	c := &streamClient{filter: f, ch: make(chan *streamEvent, streamClientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if !resume {
		return c, nil
	}

	var missed []*streamEvent
	collect := func(b *sessionBacklog) {
		for _, evt := range b.events {
			if evt.seq > after && f.match(evt) {
				missed = append(missed, evt)
			}
		}
	}
	if len(f.sessions) > 0 {
		for id := range f.sessions {
			if b, ok := h.backlogs[id]; ok {
				collect(b)
			}
		}
	} else {
		for _, b := range h.backlogs {
			collect(b)
		}
	}
	slices.SortFunc(missed, func(a, b *streamEvent) int { return cmp.Compare(a.seq, b.seq) })
	return c, missed
}

func (h *sseHub) unsubscribe(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleEventStream handles GET /api/events/stream. Query parameters
// "session" and "kind" narrow the feed; a Last-Event-ID header resumes
// from the per-session backlog.
func (s *SessionServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStreamFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		resume bool
		after  uint64
	)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid Last-Event-ID "+strconv.Quote(v))
			return
		}
		resume = true
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.Del("Content-Type")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client, missed := s.sseHub.subscribe(filter, resume, after)
	defer s.sseHub.unsubscribe(client)

	for _, evt := range missed {
		if writeStreamEvent(w, evt) != nil {
			return
		}
	}
	if rc.Flush() != nil {
		return
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			err = writeStreamEvent(w, evt)
		case <-keepalive.C:
			_, err = io.WriteString(w, ":keepalive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			slog.Debug("event stream closed", "error", err)
			return
		}
	}
}

// writeStreamEvent writes evt in text/event-stream framing. The event name
// is the full session topic.
func writeStreamEvent(w io.Writer, evt *streamEvent) error {
	_, err := fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.seq, evt.topic(), evt.data)
	return err
}

// broadcastEvent fans an event out to stream clients.
func (s *SessionServer) broadcastEvent(topic string, event any) {
	if s.sseHub == nil {
		return
	}
	s.sseHub.publishJSON(topic, event)
}

func (h *sseHub) publishJSON(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event for stream", "topic", topic, "error", err)
		return
	}
	h.broadcast(topic, payload)
}

// hubPublisher adapts the hub to events.Publisher so rooms can feed stream
// clients directly.
type hubPublisher struct {
	hub *sseHub
}

func (p hubPublisher) Publish(_ context.Context, topic string, event any) error {
	p.hub.publishJSON(topic, event)
	return nil
}

func (p hubPublisher) Close() error { return nil }
