package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version          string    `json:"version"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	SessionCount     int       `json:"session_count"`
	ParticipantCount int       `json:"participant_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// sessionSnapshot is a session with its persisted roster embedded.
type sessionSnapshot struct {
	*model.Session
	Participants []string `json:"participants"`
}

// ExportJSONL writes every session from the store as JSONL to w: a header
// line, then one line per session sorted by ID with its roster in join order.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	snapshots := make([]sessionSnapshot, 0, len(sessions))
	participants := 0
	for _, sess := range sessions {
		names, err := s.ListParticipants(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("list participants for %s: %w", sess.ID, err)
		}
		if names == nil {
			names = []string{}
		}
		participants += len(names)
		snapshots = append(snapshots, sessionSnapshot{Session: sess, Participants: names})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ID < snapshots[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:          "1",
		Type:             "header",
		Timestamp:        time.Now().UTC(),
		SessionCount:     len(snapshots),
		ParticipantCount: participants,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, snap := range snapshots {
		if err := enc.Encode(record{Type: "session", Data: snap}); err != nil {
			return fmt.Errorf("encode session %s: %w", snap.ID, err)
		}
	}

	return nil
}
