package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coedit/internal/events"
	"github.com/alfredjeanlab/coedit/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch [session-id]",
	Short:   "Stream session events",
	GroupID: "live",
	Args:    cobra.MaximumNArgs(1),
	// Events come from NATS or the SSE stream, not the session client.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessionID string
		if len(args) == 1 {
			sessionID = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if natsURL := os.Getenv("COEDIT_NATS_URL"); natsURL != "" {
			return watchNATS(ctx, natsURL, sessionID)
		}
		return watchSSE(ctx, httpURL, sessionID)
	},
}

// watchNATS prints events received on the bus until ctx is cancelled.
func watchNATS(ctx context.Context, natsURL, sessionID string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	topic := events.TopicAll
	if sessionID != "" {
		topic = events.SessionPattern(sessionID)
	}
	ch, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, formatEvent(msg.Topic, msg.Data))
		}
	}
}

// watchSSE follows the server's event stream, reconnecting with the last
// seen event id after a dropped connection.
func watchSSE(ctx context.Context, baseURL, sessionID string) error {
	streamURL := strings.TrimRight(baseURL, "/") + "/api/events/stream"
	if sessionID != "" {
		streamURL += "?session=" + url.QueryEscape(sessionID)
	}

	var lastID string
	for {
		err := readSSE(ctx, streamURL, lastID, func(id, topic string, data []byte) {
			lastID = id
			fmt.Fprintln(out, formatEvent(topic, data))
		})
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("event stream: %v; reconnecting", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// readSSE reads one stream connection, calling fn for each complete event.
// It returns when the stream ends or ctx is cancelled.
func readSSE(ctx context.Context, streamURL, lastID string, fn func(id, topic string, data []byte)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var id, topic string
	var data []byte
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if topic != "" || data != nil {
				fn(id, topic, data)
			}
			topic, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:")...)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// formatEvent renders one event as a single human-readable line.
func formatEvent(topic string, data []byte) string {
	if jsonOutput {
		return fmt.Sprintf(`{"topic":%q,"data":%s}`, topic, data)
	}

	sessionID, kind, ok := events.ParseTopic(topic)
	if !ok {
		return fmt.Sprintf("%s %s", ui.RenderMuted(topic), data)
	}
	prefix := ui.RenderAccent(sessionID)

	switch kind {
	case events.KindCreated:
		var e events.SessionCreated
		if json.Unmarshal(data, &e) == nil && e.Session != nil {
			return fmt.Sprintf("%s created by %s", prefix, e.Session.CreatorID)
		}
	case events.KindCode:
		var e events.CodeChanged
		if json.Unmarshal(data, &e) == nil {
			return fmt.Sprintf("%s code changed (%d bytes)", prefix, len(e.Code))
		}
	case events.KindLocked, events.KindUnlocked:
		return fmt.Sprintf("%s %s", prefix, lockLabel(kind == events.KindLocked))
	case events.KindJoined:
		var e events.ParticipantJoined
		if json.Unmarshal(data, &e) == nil {
			return fmt.Sprintf("%s %s joined as %s", prefix, e.Name, e.Role)
		}
	case events.KindKicked:
		var e events.ParticipantKicked
		if json.Unmarshal(data, &e) == nil {
			return fmt.Sprintf("%s %s was removed", prefix, ui.RenderWarn(e.Name))
		}
	case events.KindLeft:
		var e events.ParticipantLeft
		if json.Unmarshal(data, &e) == nil {
			if e.Explicit {
				return fmt.Sprintf("%s %s left", prefix, e.Name)
			}
			return fmt.Sprintf("%s %s disconnected", prefix, e.Name)
		}
	case events.KindOutput:
		var e events.CodeOutput
		if json.Unmarshal(data, &e) == nil {
			return fmt.Sprintf("%s output:\n%s", prefix, e.Output)
		}
	}
	return fmt.Sprintf("%s %s %s", prefix, kind, data)
}
