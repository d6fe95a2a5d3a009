package room

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/sandbox"
	"github.com/alfredjeanlab/coedit/internal/store"
	"github.com/alfredjeanlab/coedit/internal/store/memory"
)

// fakeHandle records every event it is sent.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, notify: make(chan struct{}, 1)}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(ev Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// take returns and clears the recorded events.
func (h *fakeHandle) take() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	evs := h.events
	h.events = nil
	return evs
}

// waitFor blocks until an event named name arrives and returns it,
// discarding anything received before it.
func (h *fakeHandle) waitFor(t *testing.T, name string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		for i, ev := range h.events {
			if ev.Name == name {
				h.events = h.events[i+1:]
				h.mu.Unlock()
				return ev
			}
		}
		h.mu.Unlock()
		select {
		case <-h.notify:
		case <-deadline:
			t.Fatalf("handle %s: timed out waiting for %s", h.id, name)
		}
	}
}

func names(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

// runnerFunc adapts a function to sandbox.Runner.
type runnerFunc func(ctx context.Context, code string) string

func (f runnerFunc) Run(ctx context.Context, code string) string { return f(ctx, code) }

// countingStore counts session loads.
type countingStore struct {
	store.Store
	gets atomic.Int32
}

func (s *countingStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s.gets.Add(1)
	time.Sleep(5 * time.Millisecond)
	return s.Store.GetSession(ctx, id)
}

// failingStore rejects every write.
type failingStore struct {
	store.Store
}

var errStoreDown = errors.New("connection refused")

func (failingStore) SetCode(context.Context, string, string) error { return errStoreDown }
func (failingStore) SetLocked(context.Context, string, bool) error { return errStoreDown }
func (failingStore) AddParticipant(context.Context, string, string, model.Role) error {
	return errStoreDown
}
func (failingStore) RemoveParticipant(context.Context, string, string) error { return errStoreDown }

// slowStore delays every SetCode and records the values written.
type slowStore struct {
	store.Store
	delay time.Duration

	mu     sync.Mutex
	writes []string
}

func (s *slowStore) SetCode(ctx context.Context, id, code string) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.writes = append(s.writes, code)
	s.mu.Unlock()
	return s.Store.SetCode(ctx, id, code)
}

func (s *slowStore) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	mem    *memory.Store
	coord  *Coordinator
	logs   *syncBuffer
	sessID string
}

// newFixture creates a session owned by alice and a coordinator over the
// memory store, optionally decorated by wrap. A nil runner uses the real
// JavaScript sandbox.
func newFixture(t *testing.T, wrap func(store.Store) store.Store, runner sandbox.Runner) *fixture {
	t.Helper()
	mem := memory.New()
	sess, err := mem.CreateSession(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	var s store.Store = mem
	if wrap != nil {
		s = wrap(mem)
	}
	if runner == nil {
		runner = sandbox.NewJSRunner(sandbox.Options{})
	}
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	coord := NewCoordinator(s, runner, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := coord.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return &fixture{mem: mem, coord: coord, logs: logs, sessID: sess.ID}
}

func (f *fixture) join(t *testing.T, h Handle, name string, role model.Role) *Room {
	t.Helper()
	r, err := f.coord.Join(context.Background(), f.sessID, h, name, role)
	if err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
	return r
}
