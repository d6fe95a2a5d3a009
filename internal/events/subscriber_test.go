package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// feed connects a publisher and a subscriber to one embedded server.
func feed(t *testing.T, opts ...nats.Option) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	sub, err := NewNATSSubscriber(url, opts...)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return pub, sub
}

func publishAll(t *testing.T, pub *NATSPublisher, evts map[string]any, order []string) {
	t.Helper()
	for _, topic := range order {
		if err := pub.Publish(context.Background(), topic, evts[topic]); err != nil {
			t.Fatalf("Publish(%s): %v", topic, err)
		}
	}
	if err := pub.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func expectQuiet(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %s", msg.Topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriber_FollowsOneSession(t *testing.T) {
	pub, sub := feed(t)
	ch, cancel, err := sub.Subscribe(SessionPattern("cs-1"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	evts := map[string]any{
		SessionTopic("cs-1", KindCode):   CodeChanged{SessionID: "cs-1", Code: "let a = 1"},
		SessionTopic("cs-2", KindCode):   CodeChanged{SessionID: "cs-2", Code: "other"},
		SessionTopic("cs-1", KindLocked): LockChanged{SessionID: "cs-1", Locked: true},
	}
	publishAll(t, pub, evts, []string{
		SessionTopic("cs-1", KindCode),
		SessionTopic("cs-2", KindCode),
		SessionTopic("cs-1", KindLocked),
	})

	msg := receive(t, ch)
	var code CodeChanged
	if err := json.Unmarshal(msg.Data, &code); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Topic != SessionTopic("cs-1", KindCode) || code.Code != "let a = 1" {
		t.Fatalf("first message = %s %s", msg.Topic, msg.Data)
	}
	if msg := receive(t, ch); msg.Topic != SessionTopic("cs-1", KindLocked) {
		t.Fatalf("second message topic = %s", msg.Topic)
	}
	expectQuiet(t, ch)
}

func TestNATSSubscriber_OneKindAcrossSessions(t *testing.T) {
	pub, sub := feed(t)
	ch, cancel, err := sub.Subscribe(TopicRoot + ".session.*." + KindOutput)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	evts := map[string]any{
		SessionTopic("cs-1", KindOutput): CodeOutput{SessionID: "cs-1", Output: "1"},
		SessionTopic("cs-1", KindCode):   CodeChanged{SessionID: "cs-1"},
		SessionTopic("cs-2", KindOutput): CodeOutput{SessionID: "cs-2", Output: "Error: boom"},
		SessionTopic("cs-2", KindKicked): ParticipantKicked{SessionID: "cs-2", Name: "bob"},
	}
	publishAll(t, pub, evts, []string{
		SessionTopic("cs-1", KindOutput),
		SessionTopic("cs-1", KindCode),
		SessionTopic("cs-2", KindOutput),
		SessionTopic("cs-2", KindKicked),
	})

	for _, want := range []string{"cs-1", "cs-2"} {
		msg := receive(t, ch)
		id, kind, ok := ParseTopic(msg.Topic)
		if !ok || id != want || kind != KindOutput {
			t.Fatalf("got %s, want output from %s", msg.Topic, want)
		}
	}
	expectQuiet(t, ch)
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	pub, sub := feed(t)
	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = pub.Publish(context.Background(), SessionTopic("cs-x", KindCode), CodeChanged{SessionID: "cs-x"})
		}
	}()
	cancel()
	cancel()
	<-done

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_FullChannelDrops(t *testing.T) {
	pub, sub := feed(t)
	ch, cancel, err := sub.Subscribe(SessionPattern("cs-flood"))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	for i := range 100 {
		if err := pub.Publish(context.Background(), SessionTopic("cs-flood", KindCode), CodeChanged{SessionID: "cs-flood", Code: string(rune('a' + i%26))}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	_ = pub.conn.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for len(ch) < cap(ch) {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d buffered", len(ch), cap(ch))
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d, want %d", len(ch), cap(ch))
	}
}

func TestNATSSubscriber_BadSubject(t *testing.T) {
	_, sub := feed(t)
	if _, _, err := sub.Subscribe(""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestNATSSubscriber_OptionsOverrideDefaults(t *testing.T) {
	_, sub := feed(t, nats.Name("coedit-watch"))
	var _ Subscriber = sub
	if got := sub.conn.Opts.Name; got != "coedit-watch" {
		t.Fatalf("connection name = %q, want coedit-watch", got)
	}
	if sub.conn.Opts.MaxReconnect != -1 {
		t.Fatalf("MaxReconnect = %d, want -1", sub.conn.Opts.MaxReconnect)
	}
}
