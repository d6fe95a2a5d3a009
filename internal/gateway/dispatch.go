package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/room"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// Inbound event names.
const (
	EventJoinSession     = "joinSession"
	EventCodeChange      = "codeChange"
	EventLockSession     = "lockSession"
	EventUnlockSession   = "unlockSession"
	EventKickParticipant = "kickParticipant"
	EventTyping          = "typing"
	EventRunCode         = "runCode"
	EventLeaveSession    = "leaveSession"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// request is the union of inbound payload fields.
type request struct {
	SessionID string     `json:"sessionId"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
	Code      string     `json:"code"`
}

// ErrorPayload is the data of an outbound error event.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// errNotJoined is reported for session operations before joinSession.
var errNotJoined = errors.New("not joined to session")

type handlerFunc func(c *conn, ctx context.Context, req request) error

var handlers = map[string]handlerFunc{
	EventJoinSession:     (*conn).handleJoin,
	EventCodeChange:      (*conn).handleCodeChange,
	EventLockSession:     func(c *conn, ctx context.Context, req request) error { return c.handleLock(ctx, req, true) },
	EventUnlockSession:   func(c *conn, ctx context.Context, req request) error { return c.handleLock(ctx, req, false) },
	EventKickParticipant: (*conn).handleKick,
	EventTyping:          (*conn).handleTyping,
	EventRunCode:         (*conn).handleRunCode,
	EventLeaveSession:    (*conn).handleLeave,
}

// decodeRequest accepts an object payload or a bare session id string.
func decodeRequest(raw json.RawMessage) (request, error) {
	var req request
	if len(raw) == 0 || string(raw) == "null" {
		return req, nil
	}
	if raw[0] == '"' {
		err := json.Unmarshal(raw, &req.SessionID)
		return req, err
	}
	err := json.Unmarshal(raw, &req)
	return req, err
}

func (c *conn) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("", fmt.Errorf("invalid envelope: %w", err))
		return
	}
	h, ok := handlers[env.Event]
	if !ok {
		c.sendError(env.Event, fmt.Errorf("unknown event %q", env.Event))
		return
	}
	req, err := decodeRequest(env.Data)
	if err != nil {
		c.sendError(env.Event, fmt.Errorf("invalid payload: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := h(c, ctx, req); err != nil {
		c.sendError(env.Event, err)
	}
}

// sendError reports err to this connection only.
func (c *conn) sendError(event string, err error) {
	msg := err.Error()
	var fe *model.FieldError
	switch {
	case errors.Is(err, store.ErrNotFound):
		msg = "session not found"
	case errors.Is(err, room.ErrNotMember), errors.Is(err, errNotJoined):
		msg = "not joined to session"
	case errors.Is(err, room.ErrClosed), errors.Is(err, room.ErrCoordinatorClosed):
		msg = "session is closed"
	case errors.As(err, &fe):
	case errors.Is(err, context.DeadlineExceeded):
		msg = "session is busy"
	default:
		var se *store.Error
		if errors.As(err, &se) {
			c.log.Warn("store error handling event", "event", event, "error", err)
			msg = "internal error"
		}
	}
	c.Send(room.Event{Name: room.EventError, Data: ErrorPayload{Event: event, Message: msg}})
}

// member returns the room for a joined session.
func (c *conn) member(sessionID string) (*membership, error) {
	if sessionID == "" {
		return nil, &model.FieldError{Field: "sessionId", Message: "is required"}
	}
	m, ok := c.joined[sessionID]
	if !ok {
		return nil, errNotJoined
	}
	return m, nil
}

func (c *conn) handleJoin(ctx context.Context, req request) error {
	if req.SessionID == "" {
		return &model.FieldError{Field: "sessionId", Message: "is required"}
	}
	if fe := model.ValidateName("name", req.Name); fe != nil {
		return fe
	}
	role := req.Role
	if role == "" {
		role = model.RoleParticipant
	}
	if !role.IsValid() {
		return &model.FieldError{Field: "role", Message: fmt.Sprintf("must be %q or %q", model.RoleCreator, model.RoleParticipant)}
	}

	r, err := c.gw.coord.Join(ctx, req.SessionID, c, req.Name, role)
	if err != nil {
		return err
	}
	c.joined[req.SessionID] = &membership{room: r, name: req.Name}
	c.log.Info("joined session", "session_id", req.SessionID, "name", req.Name, "role", role)
	return nil
}

func (c *conn) handleCodeChange(ctx context.Context, req request) error {
	m, err := c.member(req.SessionID)
	if err != nil {
		return err
	}
	if fe := model.ValidateCode(req.Code); fe != nil {
		return fe
	}
	return m.room.ApplyEdit(ctx, c, req.Code)
}

func (c *conn) handleLock(ctx context.Context, req request, locked bool) error {
	m, err := c.member(req.SessionID)
	if err != nil {
		return err
	}
	return m.room.SetLock(ctx, locked)
}

func (c *conn) handleKick(ctx context.Context, req request) error {
	m, err := c.member(req.SessionID)
	if err != nil {
		return err
	}
	if fe := model.ValidateName("name", req.Name); fe != nil {
		return fe
	}
	return m.room.Kick(ctx, req.Name)
}

// handleTyping relays to one session, or to every joined session when
// sessionId is omitted.
func (c *conn) handleTyping(ctx context.Context, req request) error {
	if req.SessionID != "" {
		m, err := c.member(req.SessionID)
		if err != nil {
			return err
		}
		return m.room.Typing(ctx, c, typingName(req, m))
	}
	for _, m := range c.joined {
		if err := m.room.Typing(ctx, c, typingName(req, m)); err != nil {
			return err
		}
	}
	return nil
}

func typingName(req request, m *membership) string {
	if req.Name != "" {
		return req.Name
	}
	return m.name
}

func (c *conn) handleRunCode(ctx context.Context, req request) error {
	m, err := c.member(req.SessionID)
	if err != nil {
		return err
	}
	if fe := model.ValidateCode(req.Code); fe != nil {
		return fe
	}
	return m.room.RunSnippet(ctx, c, req.Code)
}

func (c *conn) handleLeave(ctx context.Context, req request) error {
	if _, err := c.member(req.SessionID); err != nil {
		return err
	}
	delete(c.joined, req.SessionID)
	return c.gw.coord.Leave(ctx, req.SessionID, c, true)
}
