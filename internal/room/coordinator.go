package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/coedit/internal/events"
	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/sandbox"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// ErrCoordinatorClosed is returned once the coordinator has been shut down.
var ErrCoordinatorClosed = errors.New("coordinator closed")

// entry is a registry slot. ready is closed once seeding finishes; room and
// err are immutable afterwards.
type entry struct {
	ready chan struct{}
	room  *Room
	err   error
}

// Coordinator maps session ids to live rooms, creating them on first join
// and retiring them when their last handle leaves.
type Coordinator struct {
	deps

	mu      sync.Mutex
	entries map[string]*entry
	retired map[string]*Room // closed rooms whose writes are still draining
	closed  bool
}

// NewCoordinator returns a coordinator whose rooms persist to s, execute
// snippets with runner and publish activity to pub. pub and logger may be nil.
func NewCoordinator(s store.Store, runner sandbox.Runner, pub events.Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		deps: deps{
			store:     s,
			runner:    runner,
			publisher: pub,
			logger:    logger,
		},
		entries: make(map[string]*entry),
		retired: make(map[string]*Room),
	}
}

// GetOrCreate returns the live room for id, seeding a new one from the
// store if none exists. Concurrent callers for the same id share one room.
func (c *Coordinator) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrCoordinatorClosed
		}
		if e, ok := c.entries[id]; ok {
			c.mu.Unlock()
			select {
			case <-e.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if e.err != nil {
				if errors.Is(e.err, store.ErrNotFound) {
					return nil, e.err
				}
				// The seeding caller failed for its own reasons; try again.
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			select {
			case <-e.room.stopped:
				c.retire(id, e)
				continue
			default:
				return e.room, nil
			}
		}

		e := &entry{ready: make(chan struct{})}
		c.entries[id] = e
		prev := c.retired[id]
		c.mu.Unlock()

		e.room, e.err = c.seed(ctx, id, prev)
		c.mu.Lock()
		if e.err == nil && c.closed {
			e.err = ErrCoordinatorClosed
			go e.room.Close(context.Background()) //nolint:errcheck
			e.room = nil
		}
		if e.err != nil && c.entries[id] == e {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		close(e.ready)
		return e.room, e.err
	}
}

// seed loads session state and starts a room, first waiting for a retired
// predecessor to finish writing.
func (c *Coordinator) seed(ctx context.Context, id string, prev *Room) (*Room, error) {
	if prev != nil {
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	roster, err := c.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", id, err)
	}
	c.logger.Debug("room opened", "session_id", id, "roster", len(roster))
	return newRoom(sess, roster, c.deps), nil
}

// retire removes e from the registry if it is still current and tracks its
// room until its writes drain.
func (c *Coordinator) retire(id string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[id] != e {
		return
	}
	delete(c.entries, id)
	r := e.room
	c.retired[id] = r
	go func() {
		<-r.Done()
		c.mu.Lock()
		if c.retired[id] == r {
			delete(c.retired, id)
		}
		c.mu.Unlock()
		c.logger.Debug("room closed", "session_id", id)
	}()
}

// ready returns the seeded entry for id, or nil when there is none.
func (c *Coordinator) ready(id string) *entry {
	c.mu.Lock()
	e := c.entries[id]
	c.mu.Unlock()
	if e == nil {
		return nil
	}
	select {
	case <-e.ready:
	default:
		return nil
	}
	if e.err != nil {
		return nil
	}
	return e
}

// ReleaseIfEmpty closes and unregisters the room for id if it has no
// connected handles.
func (c *Coordinator) ReleaseIfEmpty(ctx context.Context, id string) error {
	e := c.ready(id)
	if e == nil {
		return nil
	}
	closed, err := e.room.closeIfEmpty(ctx)
	if errors.Is(err, ErrClosed) {
		closed, err = true, nil
	}
	if err != nil {
		return err
	}
	if closed {
		c.retire(id, e)
	}
	return nil
}

// Join adds h to the room for id, creating the room if needed. A room
// retired between lookup and join is replaced transparently.
func (c *Coordinator) Join(ctx context.Context, id string, h Handle, name string, role model.Role) (*Room, error) {
	for {
		r, err := c.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		err = r.Join(ctx, h, name, role)
		if errors.Is(err, ErrClosed) {
			continue
		}
		if err != nil {
			if relErr := c.ReleaseIfEmpty(context.WithoutCancel(ctx), id); relErr != nil {
				c.logger.Warn("failed to release room", "session_id", id, "error", relErr)
			}
			return nil, err
		}
		return r, nil
	}
}

// Leave removes h from the room for id and releases the room if that left
// it empty.
func (c *Coordinator) Leave(ctx context.Context, id string, h Handle, explicit bool) error {
	e := c.ready(id)
	if e == nil {
		return nil
	}
	if err := e.room.Leave(ctx, h, explicit); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return c.ReleaseIfEmpty(ctx, id)
}

// Active returns the live room for id without creating one.
func (c *Coordinator) Active(id string) (*Room, bool) {
	e := c.ready(id)
	if e == nil {
		return nil, false
	}
	select {
	case <-e.room.stopped:
		return nil, false
	default:
		return e.room, true
	}
}

// Len reports the number of registered rooms.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops every room and waits for their pending writes to drain.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	var rooms []*Room
	for _, e := range c.entries {
		select {
		case <-e.ready:
			if e.room != nil {
				rooms = append(rooms, e.room)
			}
		default:
		}
	}
	for _, r := range c.retired {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close room %s: %w", r.ID(), err))
		}
	}
	return errors.Join(errs...)
}
