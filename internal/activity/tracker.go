// Package activity tracks live per-session activity for the activity feed.
//
// The Tracker is an events.Publisher: the server fans every session event
// out to it alongside NATS and SSE, so it sees both REST mutations and
// real-time room traffic without a bus round-trip. A background reaper marks
// sessions idle after a configurable threshold and evicts them later.
package activity

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/coedit/internal/events"
)

// Entry is a snapshot of one session's recent activity.
type Entry struct {
	SessionID   string    `json:"session_id"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	LastEvent   string    `json:"last_event"`           // event kind, e.g. "code"
	LastActor   string    `json:"last_actor,omitempty"` // name from the last roster event
	Online      []string  `json:"online"`               // joined and not yet left or kicked
	EventCount  int64     `json:"event_count"`
	CodeChanges int64     `json:"code_changes"`
	Runs        int64     `json:"runs"`
	IdleSecs    float64   `json:"idle_secs"`      // seconds since last event
	Idle        bool      `json:"idle,omitempty"` // true if reaper marked idle
	IdleSince   time.Time `json:"idle_since,omitempty"`
}

// ReaperConfig configures the background idle-session reaper.
type ReaperConfig struct {
	// IdleThreshold is how long a session must be quiet before being marked
	// idle. Default: 15 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long after being marked idle before a session is
	// dropped from the tracker. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans for idle sessions.
	// Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each session newly marked idle.
	// Called outside the lock, so it may block.
	OnIdle func(sessionID string)
}

// Tracker maintains an in-memory view of active sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type sessionState struct {
	firstSeen   time.Time
	lastSeen    time.Time
	lastEvent   string
	lastActor   string
	online      []string
	eventCount  int64
	codeChanges int64
	runs        int64
	idle        bool
	idleSince   time.Time
}

// Compile-time check that Tracker implements events.Publisher.
var _ events.Publisher = (*Tracker)(nil)

// New creates a new activity tracker.
func New() *Tracker {
	return &Tracker{sessions: make(map[string]*sessionState)}
}

// Publish records a session event. Topics that are not session topics are
// ignored.
func (t *Tracker) Publish(_ context.Context, topic string, event any) error {
	sessionID, kind, ok := events.ParseTopic(topic)
	if !ok {
		return nil
	}
	t.record(sessionID, kind, event)
	return nil
}

// Close stops the reaper, if running.
func (t *Tracker) Close() error {
	t.Stop()
	return nil
}

func (t *Tracker) record(sessionID, kind string, event any) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[sessionID]
	if !ok {
		state = &sessionState{firstSeen: now}
		t.sessions[sessionID] = state
	}

	if state.idle {
		slog.Info("activity: session active again", "session", sessionID)
		state.idle = false
		state.idleSince = time.Time{}
	}

	state.lastSeen = now
	state.lastEvent = kind
	state.eventCount++

	switch e := event.(type) {
	case events.CodeChanged:
		state.codeChanges++
	case events.CodeOutput:
		state.runs++
	case events.ParticipantJoined:
		state.join(e.Name)
	case events.ParticipantLeft:
		state.leave(e.Name)
	case events.ParticipantKicked:
		state.leave(e.Name)
	}
}

func (s *sessionState) join(name string) {
	s.lastActor = name
	if !slices.Contains(s.online, name) {
		s.online = append(s.online, name)
	}
}

func (s *sessionState) leave(name string) {
	s.lastActor = name
	s.online = slices.DeleteFunc(s.online, func(n string) bool { return n == name })
}

// Snapshot returns all tracked sessions, most recently active first.
// staleThreshold excludes sessions quiet for longer; pass 0 to include all.
func (t *Tracker) Snapshot(staleThreshold time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	entries := make([]Entry, 0, len(t.sessions))
	for id, state := range t.sessions {
		idle := now.Sub(state.lastSeen)
		if staleThreshold > 0 && idle > staleThreshold {
			continue
		}
		entries = append(entries, Entry{
			SessionID:   id,
			FirstSeen:   state.firstSeen,
			LastSeen:    state.lastSeen,
			LastEvent:   state.lastEvent,
			LastActor:   state.lastActor,
			Online:      append([]string{}, state.online...),
			EventCount:  state.eventCount,
			CodeChanges: state.codeChanges,
			Runs:        state.runs,
			IdleSecs:    idle.Seconds(),
			Idle:        state.idle,
			IdleSince:   state.idleSince,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartReaper launches a background goroutine that periodically marks quiet
// sessions idle. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 15 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("activity: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := time.Now()
	var newlyIdle []string

	t.mu.Lock()
	for id, state := range t.sessions {
		if state.idle {
			if now.Sub(state.idleSince) > cfg.EvictAfter {
				delete(t.sessions, id)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.IdleThreshold {
			state.idle = true
			state.idleSince = now
			newlyIdle = append(newlyIdle, id)
		}
	}
	t.mu.Unlock()

	for _, id := range newlyIdle {
		slog.Info("activity: session marked idle",
			"session", id,
			"threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(id)
		}
	}
}
