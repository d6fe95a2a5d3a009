package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/coedit/internal/events"
)

func codeTopic(id string) string { return events.SessionTopic(id, events.KindCode) }

func filterFor(t *testing.T, query string) streamFilter {
	t.Helper()
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", query, err)
	}
	f, err := parseStreamFilter(q)
	if err != nil {
		t.Fatalf("parseStreamFilter(%q): %v", query, err)
	}
	return f
}

func seqs(evts []*streamEvent) []uint64 {
	out := make([]uint64, len(evts))
	for i, e := range evts {
		out[i] = e.seq
	}
	return out
}

func TestSSEHub_RoutesBySession(t *testing.T) {
	hub := newSSEHub()
	all, _ := hub.subscribe(streamFilter{}, false, 0)
	one, _ := hub.subscribe(filterFor(t, "session=cs-1"), false, 0)
	defer hub.unsubscribe(all)
	defer hub.unsubscribe(one)

	hub.broadcast(codeTopic("cs-2"), []byte(`{"code":"b"}`))
	hub.broadcast(events.SessionTopic("cs-1", events.KindLocked), []byte(`{"locked":true}`))

	if got := len(all.ch); got != 2 {
		t.Fatalf("unfiltered client queued %d events, want 2", got)
	}
	if got := len(one.ch); got != 1 {
		t.Fatalf("cs-1 client queued %d events, want 1", got)
	}
	evt := <-one.ch
	if evt.session != "cs-1" || evt.kind != events.KindLocked || evt.seq != 2 {
		t.Fatalf("cs-1 client got %+v", evt)
	}
	if evt.topic() != "coedit.session.cs-1.locked" {
		t.Fatalf("topic = %q", evt.topic())
	}
}

func TestSSEHub_KindFilter(t *testing.T) {
	hub := newSSEHub()
	c, _ := hub.subscribe(filterFor(t, "kind=joined,left"), false, 0)
	defer hub.unsubscribe(c)

	hub.broadcast(codeTopic("cs-1"), []byte(`{}`))
	hub.broadcast(events.SessionTopic("cs-1", events.KindJoined), []byte(`{"name":"bob"}`))
	hub.broadcast(events.SessionTopic("cs-2", events.KindLeft), []byte(`{"name":"eve"}`))

	var kinds []string
	for len(c.ch) > 0 {
		kinds = append(kinds, (<-c.ch).kind)
	}
	if strings.Join(kinds, ",") != "joined,left" {
		t.Fatalf("kinds = %v, want [joined left]", kinds)
	}
}

func TestSSEHub_DropsNonSessionTopics(t *testing.T) {
	hub := newSSEHub()
	c, _ := hub.subscribe(streamFilter{}, false, 0)
	defer hub.unsubscribe(c)

	hub.broadcast("coedit.other", []byte(`{}`))
	if len(c.ch) != 0 || hub.seq != 0 {
		t.Fatalf("non-session topic was delivered or numbered (queued=%d seq=%d)", len(c.ch), hub.seq)
	}
}

func TestSSEHub_Unsubscribe(t *testing.T) {
	hub := newSSEHub()
	c, _ := hub.subscribe(streamFilter{}, false, 0)
	hub.unsubscribe(c)

	hub.broadcast(codeTopic("cs-1"), []byte(`{}`))
	if len(c.ch) != 0 {
		t.Fatal("should not receive events after unsubscribe")
	}
	if hub.clientCount() != 0 {
		t.Fatalf("clientCount = %d", hub.clientCount())
	}
}

func TestSSEHub_ResumeInterleavesSessionsInOrder(t *testing.T) {
	hub := newSSEHub()
	for _, id := range []string{"cs-1", "cs-2", "cs-1", "cs-3", "cs-2"} {
		hub.broadcast(codeTopic(id), []byte(`{}`))
	}

	c, missed := hub.subscribe(streamFilter{}, true, 1)
	defer hub.unsubscribe(c)
	if got := fmt.Sprint(seqs(missed)); got != "[2 3 4 5]" {
		t.Fatalf("resume after 1 = %s, want [2 3 4 5]", got)
	}

	c2, missed := hub.subscribe(filterFor(t, "session=cs-2,cs-3"), true, 0)
	defer hub.unsubscribe(c2)
	if got := fmt.Sprint(seqs(missed)); got != "[2 4 5]" {
		t.Fatalf("resume for cs-2,cs-3 = %s, want [2 4 5]", got)
	}

	c3, missed := hub.subscribe(filterFor(t, "session=cs-1"), false, 0)
	defer hub.unsubscribe(c3)
	if missed != nil {
		t.Fatalf("subscribe without resume returned %d events", len(missed))
	}
}

func TestSSEHub_BusySessionKeepsOthersBacklog(t *testing.T) {
	hub := newSSEHub()
	hub.broadcast(events.SessionTopic("cs-quiet", events.KindCreated), []byte(`{}`))
	for range streamBacklogPerSession + 50 {
		hub.broadcast(codeTopic("cs-busy"), []byte(`{}`))
	}

	_, quiet := hub.subscribe(filterFor(t, "session=cs-quiet"), true, 0)
	if len(quiet) != 1 || quiet[0].seq != 1 {
		t.Fatalf("quiet session backlog = %v", seqs(quiet))
	}
	_, busy := hub.subscribe(filterFor(t, "session=cs-busy"), true, 0)
	if len(busy) != streamBacklogPerSession {
		t.Fatalf("busy session backlog has %d events, want %d", len(busy), streamBacklogPerSession)
	}
	if busy[0].seq != 52 {
		t.Fatalf("oldest busy event seq = %d, want 52", busy[0].seq)
	}
}

func TestSSEHub_ForgetsQuietestSession(t *testing.T) {
	hub := newSSEHub()
	for i := range streamBacklogSessions {
		hub.broadcast(codeTopic(fmt.Sprintf("cs-%d", i)), []byte(`{}`))
	}
	// cs-0 speaks again, so cs-1 is now the quietest.
	hub.broadcast(codeTopic("cs-0"), []byte(`{}`))
	hub.broadcast(codeTopic("cs-new"), []byte(`{}`))

	if len(hub.backlogs) != streamBacklogSessions {
		t.Fatalf("backlogs = %d, want %d", len(hub.backlogs), streamBacklogSessions)
	}
	if _, ok := hub.backlogs["cs-1"]; ok {
		t.Fatal("cs-1 should have been forgotten")
	}
	for _, id := range []string{"cs-0", "cs-new"} {
		if _, ok := hub.backlogs[id]; !ok {
			t.Fatalf("%s backlog missing", id)
		}
	}
}

func TestSSEHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := newSSEHub()
	c, _ := hub.subscribe(streamFilter{}, false, 0)
	defer hub.unsubscribe(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 500 {
			hub.broadcast(codeTopic("cs-1"), []byte(`{}`))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	if len(c.ch) != streamClientBuffer {
		t.Fatalf("queued %d events, want %d", len(c.ch), streamClientBuffer)
	}
}

func TestParseStreamFilter(t *testing.T) {
	f := filterFor(t, "session=cs-1,%20,cs-2&session=cs-3&kind=code")
	for _, id := range []string{"cs-1", "cs-2", "cs-3"} {
		if !f.sessions[id] {
			t.Errorf("session %s missing from %v", id, f.sessions)
		}
	}
	if len(f.sessions) != 3 || len(f.kinds) != 1 || !f.kinds[events.KindCode] {
		t.Fatalf("filter = %+v", f)
	}

	empty := filterFor(t, "")
	if !empty.match(&streamEvent{session: "cs-9", kind: events.KindOutput}) {
		t.Fatal("empty filter should match everything")
	}

	if _, err := parseStreamFilter(url.Values{"kind": {"code,deleted"}}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// runStream serves one stream request until fn returns, then cancels it and
// returns the response body.
func runStream(t *testing.T, srv *SessionServer, path, lastEventID string, fn func()) (*httptest.ResponseRecorder, string) {
	t.Helper()
	h := srv.NewHTTPHandler(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("GET", path, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	deadline := time.Now().Add(time.Second)
	for srv.sseHub.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fn()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	return rec, rec.Body.String()
}

func TestHandleEventStream_SSE(t *testing.T) {
	srv, _, _, _ := newTestServer()
	ctx := context.Background()

	var id string
	rec, body := runStream(t, srv, "/api/events/stream", "", func() {
		sess, err := srv.createSession(ctx, "alice", "")
		if err != nil {
			t.Errorf("createSession: %v", err)
			return
		}
		id = sess.ID
	})

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type=text/event-stream, got %q", ct)
	}
	created := fmt.Sprintf("id:1\nevent:%s\n", events.SessionTopic(id, events.KindCreated))
	joined := fmt.Sprintf("id:2\nevent:%s\n", events.SessionTopic(id, events.KindJoined))
	if !strings.Contains(body, created) || !strings.Contains(body, joined) {
		t.Fatalf("expected created then joined for %s, got:\n%s", id, body)
	}
	if strings.Index(body, created) > strings.Index(body, joined) {
		t.Fatalf("events out of order:\n%s", body)
	}
}

func TestHandleEventStream_SessionAndKindFilter(t *testing.T) {
	srv, _, _, _ := newTestServer()
	ctx := context.Background()
	pub := srv.Publisher()

	_, body := runStream(t, srv, "/api/events/stream?session=cs-1&kind=code", "", func() {
		_ = pub.Publish(ctx, codeTopic("cs-2"), events.CodeChanged{SessionID: "cs-2"})
		_ = pub.Publish(ctx, events.SessionTopic("cs-1", events.KindLocked), events.LockChanged{SessionID: "cs-1", Locked: true})
		_ = pub.Publish(ctx, codeTopic("cs-1"), events.CodeChanged{SessionID: "cs-1", Code: "x"})
	})

	if strings.Contains(body, "cs-2") || strings.Contains(body, ".locked") {
		t.Fatalf("filtered events leaked through:\n%s", body)
	}
	if !strings.Contains(body, `event:coedit.session.cs-1.code`+"\n"+`data:{"session_id":"cs-1","code":"x"}`) {
		t.Fatalf("expected cs-1 code event, got:\n%s", body)
	}
}

func TestHandleEventStream_ResumeFromSessionBacklog(t *testing.T) {
	srv, _, _, _ := newTestServer()
	srv.sseHub.broadcast(codeTopic("cs-1"), []byte(`{"n":1}`))
	srv.sseHub.broadcast(codeTopic("cs-2"), []byte(`{"n":2}`))
	srv.sseHub.broadcast(codeTopic("cs-1"), []byte(`{"n":3}`))
	srv.sseHub.broadcast(codeTopic("cs-1"), []byte(`{"n":4}`))

	_, body := runStream(t, srv, "/api/events/stream?session=cs-1", "1", func() {})

	for _, gone := range []string{`{"n":1}`, `{"n":2}`} {
		if strings.Contains(body, gone) {
			t.Fatalf("%s should not be replayed:\n%s", gone, body)
		}
	}
	if !strings.Contains(body, "id:3\n") || !strings.Contains(body, "id:4\n") {
		t.Fatalf("expected events 3 and 4 replayed:\n%s", body)
	}
	if strings.Index(body, "id:3\n") > strings.Index(body, "id:4\n") {
		t.Fatalf("replay out of order:\n%s", body)
	}
}

func TestHandleEventStream_BadRequests(t *testing.T) {
	srv, _, _, _ := newTestServer()
	h := srv.NewHTTPHandler(nil, nil)

	for _, tc := range []struct {
		name, path, lastID, want string
	}{
		{"unknown kind", "/api/events/stream?kind=exploded", "", "unknown event kind"},
		{"bad last event id", "/api/events/stream", "abc", "invalid Last-Event-ID"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.lastID != "" {
				req.Header.Set("Last-Event-ID", tc.lastID)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.want) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tc.want)
			}
			if srv.sseHub.clientCount() != 0 {
				t.Fatal("rejected request left a subscriber behind")
			}
		})
	}
}
