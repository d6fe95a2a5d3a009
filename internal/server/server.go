// Package server exposes the session store over HTTP and gRPC and streams
// session activity to SSE clients.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/coedit/internal/activity"
	"github.com/alfredjeanlab/coedit/internal/events"
	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// SessionServer implements the request/response API shared by the HTTP and
// gRPC transports.
type SessionServer struct {
	store     store.Store
	publisher events.Publisher
	sseHub    *sseHub
	activity  *activity.Tracker
}

// NewSessionServer returns a SessionServer backed by the given store and
// publisher. A nil publisher disables external publishing; the SSE stream and
// activity tracker are always fed.
func NewSessionServer(s store.Store, p events.Publisher) *SessionServer {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	return &SessionServer{
		store:     s,
		publisher: p,
		sseHub:    newSSEHub(),
		activity:  activity.New(),
	}
}

// Activity returns the server's activity tracker.
func (s *SessionServer) Activity() *activity.Tracker { return s.activity }

// Publisher returns a publisher that forwards to the server's external
// publisher, connected SSE clients and the activity tracker. Rooms publish
// through it so their activity reaches every feed.
func (s *SessionServer) Publisher() events.Publisher {
	return events.MultiPublisher{s.publisher, hubPublisher{s.sseHub}, trackerPublisher{s.activity}}
}

// trackerPublisher feeds the activity tracker without exposing its Close,
// which the server owns.
type trackerPublisher struct{ t *activity.Tracker }

func (p trackerPublisher) Publish(ctx context.Context, topic string, event any) error {
	return p.t.Publish(ctx, topic, event)
}

func (trackerPublisher) Close() error { return nil }

// publish emits an event to the external publisher, SSE clients and the
// activity tracker. Failures are logged and do not affect the caller.
func (s *SessionServer) publish(ctx context.Context, topic, sessionID string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "session_id", sessionID, "error", err)
	}
	s.broadcastEvent(topic, event)
	if err := s.activity.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to record activity", "topic", topic, "session_id", sessionID, "error", err)
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return inputError("id is required")
	}
	return nil
}

// validationInput converts model validation failures to inputError.
func validationInput(err error) error {
	if err == nil {
		return nil
	}
	var fe *model.FieldError
	var ve *model.ValidationError
	if errors.As(err, &fe) || errors.As(err, &ve) {
		return inputError(err.Error())
	}
	return err
}

// createSession is the shared core for POST /api/sessions and the
// CreateSession RPC.
func (s *SessionServer) createSession(ctx context.Context, creatorID, code string) (*model.Session, error) {
	creatorID = strings.TrimSpace(creatorID)
	if err := model.ValidateNewSession(creatorID, code); err != nil {
		return nil, validationInput(err)
	}
	sess, err := s.store.CreateSession(ctx, creatorID, code)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.SessionTopic(sess.ID, events.KindCreated), sess.ID, events.SessionCreated{Session: sess})
	s.publish(ctx, events.SessionTopic(sess.ID, events.KindJoined), sess.ID, events.ParticipantJoined{
		SessionID: sess.ID,
		Name:      sess.CreatorID,
		Role:      model.RoleCreator,
	})
	return sess, nil
}

func (s *SessionServer) getSession(ctx context.Context, id string) (*model.Session, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

func (s *SessionServer) listSessions(ctx context.Context) ([]*model.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	return sessions, nil
}

// updateCode overwrites the persisted code of a session.
func (s *SessionServer) updateCode(ctx context.Context, id, code string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if fe := model.ValidateCode(code); fe != nil {
		return validationInput(fe)
	}
	if err := s.store.SetCode(ctx, id, code); err != nil {
		return err
	}
	s.publish(ctx, events.SessionTopic(id, events.KindCode), id, events.CodeChanged{SessionID: id, Code: code})
	return nil
}

func (s *SessionServer) setLocked(ctx context.Context, id string, locked bool) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := s.store.SetLocked(ctx, id, locked); err != nil {
		return err
	}
	kind := events.KindUnlocked
	if locked {
		kind = events.KindLocked
	}
	s.publish(ctx, events.SessionTopic(id, kind), id, events.LockChanged{SessionID: id, Locked: locked})
	return nil
}

// listParticipants returns the persisted roster of a session, or
// store.ErrNotFound when the session does not exist.
func (s *SessionServer) listParticipants(ctx context.Context, id string) ([]string, error) {
	if _, err := s.getSession(ctx, id); err != nil {
		return nil, err
	}
	names, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *SessionServer) removeParticipant(ctx context.Context, id, name string) error {
	if _, err := s.getSession(ctx, id); err != nil {
		return err
	}
	if fe := model.ValidateName("name", name); fe != nil {
		return validationInput(fe)
	}
	if err := s.store.RemoveParticipant(ctx, id, name); err != nil {
		return err
	}
	s.publish(ctx, events.SessionTopic(id, events.KindKicked), id, events.ParticipantKicked{SessionID: id, Name: name})
	return nil
}
