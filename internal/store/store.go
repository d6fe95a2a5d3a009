// Package store defines the persistence interface for sessions and their
// participant rosters.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// ErrNotFound is returned (wrapped) when an operation references a session
// that does not exist.
var ErrNotFound = errors.New("session not found")

// Error reports a failure of the underlying record store: connectivity,
// constraint violations, or malformed rows.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err annotated with op as a *Error. ErrNotFound passes through
// unchanged so callers can keep matching it with errors.Is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Store is the synchronous facade over the external session record store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, creatorID, code string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	SetCode(ctx context.Context, id, code string) error
	SetLocked(ctx context.Context, id string, locked bool) error

	// Roster. AddParticipant and RemoveParticipant are idempotent.
	AddParticipant(ctx context.Context, sessionID, name string, role model.Role) error
	RemoveParticipant(ctx context.Context, sessionID, name string) error
	ListParticipants(ctx context.Context, sessionID string) ([]string, error)

	// Lifecycle
	Close() error
}
