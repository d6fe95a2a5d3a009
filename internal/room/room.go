// Package room keeps every connected participant's view of a session
// consistent. Each active session is served by one Room, an actor goroutine
// that applies operations one at a time in arrival order, and a Coordinator
// that guarantees at most one Room per session.
package room

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/alfredjeanlab/coedit/internal/events"
	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/sandbox"
	"github.com/alfredjeanlab/coedit/internal/store"
)

var (
	// ErrClosed is returned by operations on a room that has been closed.
	ErrClosed = errors.New("room closed")
	// ErrNotMember is returned when a handle acts on a room it has not joined.
	ErrNotMember = errors.New("not a member of this session")
)

// State is a point-in-time copy of a room's in-memory view.
type State struct {
	SessionID string   `json:"session_id"`
	Code      string   `json:"code"`
	Locked    bool     `json:"locked"`
	Roster    []string `json:"roster"`
	Members   int      `json:"members"`
}

type member struct {
	handle Handle
	name   string
	role   model.Role
}

// deps are the collaborators shared by every room of a coordinator.
type deps struct {
	store     store.Store
	runner    sandbox.Runner
	publisher events.Publisher
	logger    *slog.Logger
}

// Room is the authoritative in-memory view of one active session.
type Room struct {
	id string
	deps
	log     *slog.Logger
	persist *persister

	ops     chan func()
	stopped chan struct{} // closed when the actor exits
	done    chan struct{} // closed after the persistence queue drains

	runCtx    context.Context
	cancelRun context.CancelFunc

	// Owned by the actor goroutine.
	code    string
	locked  bool
	roster  []string
	members []*member
	closed  bool
}

func newRoom(sess *model.Session, roster []string, d deps) *Room {
	log := d.logger.With("session_id", sess.ID)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:        sess.ID,
		deps:      d,
		log:       log,
		persist:   newPersister(sess.ID, d.store, log),
		ops:       make(chan func()),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    ctx,
		cancelRun: cancel,
		code:      sess.Code,
		locked:    sess.Locked,
		roster:    slices.Clone(roster),
	}
	go r.loop()
	return r
}

// ID returns the session id served by the room.
func (r *Room) ID() string { return r.id }

// Done is closed once the room has stopped and all of its pending store
// writes have been applied.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) loop() {
	defer func() {
		close(r.stopped)
		r.cancelRun()
		r.persist.close()
		<-r.persist.done
		close(r.done)
	}()
	for op := range r.ops {
		op()
		if r.closed {
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.ops <- op:
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// submit queues fn on the actor goroutine without waiting for it to run.
func (r *Room) submit(fn func()) error {
	select {
	case r.ops <- fn:
		return nil
	case <-r.stopped:
		return ErrClosed
	}
}

// Join registers h under name and role. Every participant join is written
// to the store and announced to the other members; the roster keeps one
// entry per name. Every joiner receives the current roster and code snapshot.
func (r *Room) Join(ctx context.Context, h Handle, name string, role model.Role) error {
	return r.do(ctx, func() {
		if m := r.member(h); m != nil {
			m.name, m.role = name, role
		} else {
			r.members = append(r.members, &member{handle: h, name: name, role: role})
		}

		if role == model.RoleParticipant {
			if !slices.Contains(r.roster, name) {
				r.roster = append(r.roster, name)
			}
			r.persist.enqueue(write{kind: writeAddParticipant, name: name, role: role})
			r.broadcastExcept(h, Event{Name: EventParticipantJoined, Data: name})
			r.publish(events.KindJoined, events.ParticipantJoined{SessionID: r.id, Name: name, Role: role})
		}

		h.Send(Event{Name: EventCurrentParticipants, Data: slices.Clone(r.roster)})
		h.Send(Event{Name: EventCodeChange, Data: r.code})
		if r.locked {
			h.Send(Event{Name: EventSessionLocked, Data: true})
		}
	})
}

// ApplyEdit replaces the code snapshot and relays it to every member except
// the sender.
func (r *Room) ApplyEdit(ctx context.Context, h Handle, code string) error {
	var err error
	if doErr := r.do(ctx, func() {
		if r.member(h) == nil {
			err = ErrNotMember
			return
		}
		r.code = code
		r.broadcastExcept(h, Event{Name: EventCodeChange, Data: r.code})
		r.persist.enqueue(write{kind: writeCode, code: code})
		r.publish(events.KindCode, events.CodeChanged{SessionID: r.id, Code: code})
	}); doErr != nil {
		return doErr
	}
	return err
}

// SetLock records the advisory lock flag and announces it to every member.
func (r *Room) SetLock(ctx context.Context, locked bool) error {
	return r.do(ctx, func() {
		r.locked = locked
		r.persist.enqueue(write{kind: writeLocked, locked: locked})
		if locked {
			r.broadcast(Event{Name: EventSessionLocked, Data: true})
			r.publish(events.KindLocked, events.LockChanged{SessionID: r.id, Locked: true})
		} else {
			r.broadcast(Event{Name: EventSessionUnlocked, Data: false})
			r.publish(events.KindUnlocked, events.LockChanged{SessionID: r.id, Locked: false})
		}
	})
}

// Kick removes name from the roster and announces it. Handles joined under
// that name stay connected. The store delete runs even for names the room
// does not hold; the announcement does not.
func (r *Room) Kick(ctx context.Context, name string) error {
	return r.do(ctx, func() {
		r.persist.enqueue(write{kind: writeRemoveParticipant, name: name})
		i := slices.Index(r.roster, name)
		if i < 0 {
			return
		}
		r.roster = slices.Delete(r.roster, i, i+1)
		r.broadcast(Event{Name: EventParticipantKicked, Data: name})
		r.publish(events.KindKicked, events.ParticipantKicked{SessionID: r.id, Name: name})
	})
}

// Leave unregisters h. An explicit leave by a participant also drops its
// roster entry; a dropped connection leaves the roster untouched.
func (r *Room) Leave(ctx context.Context, h Handle, explicit bool) error {
	return r.do(ctx, func() {
		m := r.member(h)
		if m == nil {
			return
		}
		r.members = slices.DeleteFunc(r.members, func(x *member) bool { return x == m })
		if explicit && m.role == model.RoleParticipant {
			r.roster = slices.DeleteFunc(r.roster, func(n string) bool { return n == m.name })
			r.persist.enqueue(write{kind: writeRemoveParticipant, name: m.name})
		}
		r.publish(events.KindLeft, events.ParticipantLeft{SessionID: r.id, Name: m.name, Explicit: explicit})
	})
}

// Typing relays a typing indicator to every member except the sender.
func (r *Room) Typing(ctx context.Context, h Handle, name string) error {
	var err error
	if doErr := r.do(ctx, func() {
		if r.member(h) == nil {
			err = ErrNotMember
			return
		}
		r.broadcastExcept(h, Event{Name: EventTypingIndicator, Data: name})
	}); doErr != nil {
		return doErr
	}
	return err
}

// RunSnippet executes code in the sandbox off the actor goroutine and
// broadcasts the output to every member, the requester included. It returns
// once the run has been started.
func (r *Room) RunSnippet(ctx context.Context, h Handle, code string) error {
	var isMember bool
	if err := r.do(ctx, func() { isMember = r.member(h) != nil }); err != nil {
		return err
	}
	if !isMember {
		return ErrNotMember
	}

	go func() {
		out := r.runner.Run(r.runCtx, code)
		err := r.submit(func() {
			r.broadcast(Event{Name: EventCodeOutput, Data: out})
			r.publish(events.KindOutput, events.CodeOutput{SessionID: r.id, Output: out})
		})
		if err != nil {
			r.log.Debug("dropped snippet output", "error", err)
		}
	}()
	return nil
}

// Snapshot returns a copy of the room's current state.
func (r *Room) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := r.do(ctx, func() {
		st = State{
			SessionID: r.id,
			Code:      r.code,
			Locked:    r.locked,
			Roster:    slices.Clone(r.roster),
			Members:   len(r.members),
		}
	})
	return st, err
}

// Flush waits until every store write issued before the call has been
// applied.
func (r *Room) Flush(ctx context.Context) error {
	var marker <-chan struct{}
	if err := r.do(ctx, func() { marker = r.persist.flushMarker() }); err != nil {
		if errors.Is(err, ErrClosed) {
			return r.wait(ctx)
		}
		return err
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeIfEmpty stops the room when no handles remain and reports whether it
// did.
func (r *Room) closeIfEmpty(ctx context.Context) (bool, error) {
	var closed bool
	err := r.do(ctx, func() {
		if len(r.members) == 0 {
			r.closed = true
			closed = true
		}
	})
	return closed, err
}

// Close stops the room regardless of membership and waits for pending
// writes to drain.
func (r *Room) Close(ctx context.Context) error {
	if err := r.do(ctx, func() { r.closed = true }); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return r.wait(ctx)
}

func (r *Room) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) member(h Handle) *member {
	for _, m := range r.members {
		if m.handle.ID() == h.ID() {
			return m
		}
	}
	return nil
}

func (r *Room) broadcast(ev Event) {
	for _, m := range r.members {
		m.handle.Send(ev)
	}
}

func (r *Room) broadcastExcept(sender Handle, ev Event) {
	for _, m := range r.members {
		if m.handle.ID() != sender.ID() {
			m.handle.Send(ev)
		}
	}
}

// publish emits a best-effort activity event.
func (r *Room) publish(kind string, event any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(r.runCtx, events.SessionTopic(r.id, kind), event); err != nil {
		r.log.Warn("failed to publish event", "kind", kind, "error", err)
	}
}
