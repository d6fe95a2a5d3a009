// Package events defines the session activity feed: topic naming, payload
// types, and the publisher/subscriber abstractions over NATS.
package events

import (
	"context"
	"slices"
	"strings"

	"github.com/alfredjeanlab/coedit/internal/model"
)

// TopicRoot prefixes every subject published by coedit.
const TopicRoot = "coedit"

// TopicAll matches every session event.
const TopicAll = TopicRoot + ".>"

// Event kinds, used as the last subject token.
const (
	KindCreated  = "created"
	KindCode     = "code"
	KindLocked   = "locked"
	KindUnlocked = "unlocked"
	KindJoined   = "joined"
	KindKicked   = "kicked"
	KindLeft     = "left"
	KindOutput   = "output"
)

var kinds = []string{
	KindCreated, KindCode, KindLocked, KindUnlocked,
	KindJoined, KindKicked, KindLeft, KindOutput,
}

// IsKind reports whether kind is one of the event kinds above.
func IsKind(kind string) bool { return slices.Contains(kinds, kind) }

// SessionTopic returns the subject for an event of kind in session id,
// e.g. "coedit.session.cs-abc.code".
func SessionTopic(id, kind string) string {
	return TopicRoot + ".session." + id + "." + kind
}

// SessionPattern returns a wildcard subject matching every event of one
// session.
func SessionPattern(id string) string {
	return TopicRoot + ".session." + id + ".*"
}

// ParseTopic splits a session subject into its session id and kind.
func ParseTopic(topic string) (sessionID, kind string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) != 4 || parts[0] != TopicRoot || parts[1] != "session" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// Event types

type SessionCreated struct {
	Session *model.Session `json:"session"`
}

type CodeChanged struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type LockChanged struct {
	SessionID string `json:"session_id"`
	Locked    bool   `json:"locked"`
}

type ParticipantJoined struct {
	SessionID string     `json:"session_id"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
}

type ParticipantKicked struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

type ParticipantLeft struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Explicit  bool   `json:"explicit"`
}

type CodeOutput struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives raw events from the bus.
type Subscriber interface {
	// Subscribe delivers messages matching topic on the returned channel.
	// The returned cancel function unsubscribes and closes the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

// Message is a raw event delivered to a subscriber.
type Message struct {
	Topic string
	Data  []byte
}
