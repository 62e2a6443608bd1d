package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appoutbox "swapyard/internal/app/outbox"
	"swapyard/internal/infra/storage/memory"
)

type capturedMessage struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []capturedMessage
	err      error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, capturedMessage{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func (p *fakeProducer) captured() []capturedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedMessage(nil), p.messages...)
}

func addRecord(t *testing.T, box *memory.Outbox, name, aggregate string) appoutbox.EventRecord {
	t.Helper()
	rec := appoutbox.EventRecord{
		ID:         "rec-" + name,
		Name:       name,
		Payload:    []byte(`{"conversation_id":"u1_u2_L9"}`),
		OccurredAt: time.Now().UTC(),
		Aggregate:  aggregate,
		Headers:    map[string]string{},
	}
	if err := box.Add(context.Background(), rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerPublishesCloudEvents(t *testing.T) {
	box := memory.NewOutbox()
	producer := &fakeProducer{}
	addRecord(t, box, "chat.message_sent", "u1_u2_L9")

	w := &Worker{
		Store:    box,
		Producer: producer,
		Interval: 5 * time.Millisecond,
		Source:   "app://swapyard-test",
		ID:       "w1",
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	waitFor(t, func() bool { return len(producer.captured()) == 1 })
	msg := producer.captured()[0]

	if msg.topic != "chat.events.v1" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}
	if msg.key != "u1_u2_L9" {
		t.Fatalf("partition key must be the aggregate id, got %q", msg.key)
	}
	if msg.headers["content-type"] != "application/cloudevents+json" {
		t.Fatalf("missing cloudevents content type: %v", msg.headers)
	}

	var envelope map[string]any
	if err := json.Unmarshal(msg.payload, &envelope); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if envelope["specversion"] != "1.0" || envelope["type"] != "chat.message_sent.v1" {
		t.Fatalf("bad envelope: %v", envelope)
	}
	if envelope["source"] != "app://swapyard-test" {
		t.Fatalf("bad source: %v", envelope["source"])
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok || data["conversation_id"] != "u1_u2_L9" {
		t.Fatalf("event data not embedded: %v", envelope["data"])
	}

	waitFor(t, func() bool { return len(box.Pending()) == 0 })
}

func TestWorkerTopicPrefix(t *testing.T) {
	w := &Worker{TopicPrefix: "staging."}
	if got := w.topicFor("chat.message_sent"); got != "staging.chat.events.v1" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := w.topicFor("account"); got != "staging.account.events.v1" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestWorkerReschedulesFailedPublishes(t *testing.T) {
	box := memory.NewOutbox()
	producer := &fakeProducer{err: errors.New("broker down")}
	addRecord(t, box, "chat.message_sent", "u1_u2_L9")

	w := &Worker{
		Store:    box,
		Producer: producer,
		Interval: 5 * time.Millisecond,
		ID:       "w1",
		Backoff:  []time.Duration{10 * time.Millisecond},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// The record must stay pending while publishing fails.
	time.Sleep(50 * time.Millisecond)
	if len(box.Pending()) != 1 {
		t.Fatalf("failed record must remain pending, got %d", len(box.Pending()))
	}

	// Once the broker recovers, the retry drains it.
	producer.mu.Lock()
	producer.err = nil
	producer.mu.Unlock()
	waitFor(t, func() bool { return len(box.Pending()) == 0 })
}

func TestWorkerRequiresDependencies(t *testing.T) {
	w := &Worker{}
	if err := w.Run(context.Background()); !errors.Is(err, ErrWorkerNotConfigured) {
		t.Fatalf("want ErrWorkerNotConfigured, got %v", err)
	}
}
