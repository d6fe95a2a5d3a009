// Package memory implements store.Store in process memory. It backs the
// server when no database is configured and serves as the store in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/coedit/internal/idgen"
	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// Store is a mutex-guarded in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	rosters  map[string][]model.Participant
	now      func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*model.Session),
		rosters:  make(map[string][]model.Participant),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateSession(_ context.Context, creatorID, code string) (*model.Session, error) {
	id, err := idgen.SessionID()
	if err != nil {
		return nil, store.Wrap("create session", err)
	}
	now := s.now()
	sess := &model.Session{
		ID:        id,
		CreatorID: creatorID,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.sessions[id]; dup {
		return nil, store.Wrap("create session", fmt.Errorf("duplicate id %s", id))
	}
	s.sessions[id] = sess
	s.rosters[id] = []model.Participant{{SessionID: id, Name: creatorID, Role: model.RoleCreator, JoinedAt: now}}

	clone := *sess
	return &clone, nil
}

func (s *Store) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, store.ErrNotFound)
	}
	clone := *sess
	return &clone, nil
}

func (s *Store) ListSessions(_ context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		clone := *sess
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SetCode(_ context.Context, id, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("set code %s: %w", id, store.ErrNotFound)
	}
	sess.Code = code
	sess.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetLocked(_ context.Context, id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("set locked %s: %w", id, store.ErrNotFound)
	}
	sess.Locked = locked
	sess.UpdatedAt = s.now()
	return nil
}

func (s *Store) AddParticipant(_ context.Context, sessionID, name string, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("add participant to %s: %w", sessionID, store.ErrNotFound)
	}
	for _, p := range s.rosters[sessionID] {
		if p.Name == name {
			return nil
		}
	}
	s.rosters[sessionID] = append(s.rosters[sessionID], model.Participant{
		SessionID: sessionID,
		Name:      name,
		Role:      role,
		JoinedAt:  s.now(),
	})
	return nil
}

func (s *Store) RemoveParticipant(_ context.Context, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[sessionID]
	for i, p := range roster {
		if p.Name == name {
			s.rosters[sessionID] = append(roster[:i:i], roster[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := s.rosters[sessionID]
	names := make([]string, len(roster))
	for i, p := range roster {
		names[i] = p.Name
	}
	return names, nil
}

// Close is a no-op; the store holds no external resources.
func (s *Store) Close() error { return nil }
