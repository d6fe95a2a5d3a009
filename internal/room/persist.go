package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// writeTimeout bounds each detached store write.
const writeTimeout = 10 * time.Second

type writeKind int

const (
	writeCode writeKind = iota
	writeLocked
	writeAddParticipant
	writeRemoveParticipant
	writeFlush
)

func (k writeKind) String() string {
	switch k {
	case writeCode:
		return "set code"
	case writeLocked:
		return "set locked"
	case writeAddParticipant:
		return "add participant"
	case writeRemoveParticipant:
		return "remove participant"
	case writeFlush:
		return "flush"
	}
	return "unknown"
}

type write struct {
	kind   writeKind
	code   string
	locked bool
	name   string
	role   model.Role
	done   chan struct{} // flush only
}

// persister applies a room's store writes in order on its own goroutine so
// broadcasts never wait on the store. Failures are logged and dropped.
type persister struct {
	sessionID string
	store     store.Store
	log       *slog.Logger

	mu     sync.Mutex
	queue  []write
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersister(sessionID string, s store.Store, log *slog.Logger) *persister {
	p := &persister{
		sessionID: sessionID,
		store:     s,
		log:       log,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue appends w. A code or lock write replaces an identical-kind write
// still pending at the tail of the queue.
func (p *persister) enqueue(w write) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if w.done != nil {
			close(w.done)
		}
		return
	}
	if n := len(p.queue); n > 0 && (w.kind == writeCode || w.kind == writeLocked) && p.queue[n-1].kind == w.kind {
		p.queue[n-1] = w
	} else {
		p.queue = append(p.queue, w)
	}
	p.mu.Unlock()
	p.signal()
}

// flushMarker enqueues a marker and returns a channel closed once every
// write queued before it has been applied.
func (p *persister) flushMarker() <-chan struct{} {
	done := make(chan struct{})
	p.enqueue(write{kind: writeFlush, done: done})
	return done
}

// close stops accepting writes. Pending writes are still applied; done is
// closed when the queue is empty.
func (p *persister) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		w := p.queue[0]
		p.queue[0] = write{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.apply(w)
	}
}

func (p *persister) apply(w write) {
	if w.kind == writeFlush {
		close(w.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch w.kind {
	case writeCode:
		err = p.store.SetCode(ctx, p.sessionID, w.code)
	case writeLocked:
		err = p.store.SetLocked(ctx, p.sessionID, w.locked)
	case writeAddParticipant:
		err = p.store.AddParticipant(ctx, p.sessionID, w.name, w.role)
	case writeRemoveParticipant:
		err = p.store.RemoveParticipant(ctx, p.sessionID, w.name)
	}
	if err != nil {
		p.log.Warn("failed to persist room change",
			"session_id", p.sessionID, "op", w.kind.String(), "error", err)
	}
}
