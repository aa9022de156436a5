package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	group    string
	envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	items []published
	fail  map[string]bool
}

func (p *recordingPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[group] {
		return errors.New("subscriber gone")
	}
	var item published
	item.group = group
	if err := json.Unmarshal(payload, &item.envelope); err != nil {
		return err
	}
	p.items = append(p.items, item)
	return nil
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.items...)
}

func TestFanoutDeliversToEveryGroup(t *testing.T) {
	pub := &recordingPublisher{}
	fanout := NewFanout(pub, Config{Workers: 2}, nil)

	fanout.Dispatch(Event{
		Key:    "t1",
		Type:   EventTicketCalled,
		Groups: []string{DepartmentGroup("d1"), UserGroup("u1"), QueueGroup("q1")},
		Payload: TicketCalled{
			TicketID:   "t1",
			TicketCode: "DQ-001",
		},
	})
	fanout.Close()

	items := pub.snapshot()
	if len(items) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(items))
	}
	want := []string{"department_d1", "user_u1", "queue_q1"}
	for i, item := range items {
		if item.group != want[i] {
			t.Fatalf("delivery %d went to %q, want %q", i, item.group, want[i])
		}
		if item.envelope.Type != EventTicketCalled {
			t.Fatalf("unexpected event type %q", item.envelope.Type)
		}
		var payload TicketCalled
		if err := json.Unmarshal(item.envelope.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.TicketCode != "DQ-001" {
			t.Fatalf("unexpected ticket code %q", payload.TicketCode)
		}
	}
}

func TestFanoutKeepsOrderPerKey(t *testing.T) {
	pub := &recordingPublisher{}
	fanout := NewFanout(pub, Config{Workers: 4, Buffer: 512}, nil)

	for i := 0; i < 100; i++ {
		for _, key := range []string{"a", "b", "c"} {
			fanout.Dispatch(Event{
				Key:     key,
				Type:    EventTicketRecalled,
				Groups:  []string{QueueGroup(key)},
				Payload: map[string]int{"seq": i},
			})
		}
	}
	fanout.Close()

	last := map[string]int{"queue_a": -1, "queue_b": -1, "queue_c": -1}
	for _, item := range pub.snapshot() {
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(item.envelope.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Seq != last[item.group]+1 {
			t.Fatalf("group %s: got seq %d after %d", item.group, payload.Seq, last[item.group])
		}
		last[item.group] = payload.Seq
	}
	for group, seq := range last {
		if seq != 99 {
			t.Fatalf("group %s received up to %d, want 99", group, seq)
		}
	}
}

func TestFanoutLogsFailuresAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{fail: map[string]bool{"user_u1": true}}
	fanout := NewFanout(pub, Config{Workers: 1}, zap.New(core))

	fanout.Dispatch(Event{
		Key:    "t1",
		Type:   EventTicketCalled,
		Groups: []string{DepartmentGroup("d1"), UserGroup("u1"), QueueGroup("q1")},
	})
	fanout.Close()

	if got := len(pub.snapshot()); got != 2 {
		t.Fatalf("expected the two healthy groups to receive the event, got %d", got)
	}
	entries := logs.FilterMessage("notification delivery failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["group"] != "user_u1" {
		t.Fatalf("unexpected group field %v", fields["group"])
	}
}

func TestFanoutDispatchAfterCloseIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{}
	fanout := NewFanout(pub, Config{Workers: 1}, zap.New(core))
	fanout.Close()
	fanout.Close()

	fanout.Dispatch(Event{Key: "t1", Type: EventTicketCalled, Groups: []string{"queue_q1"}})

	if got := len(pub.snapshot()); got != 0 {
		t.Fatalf("expected no delivery, got %d", got)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected dropped event to be logged, got %d entries", logs.Len())
	}
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("temporarily unavailable")
	}
	return nil
}

func TestRetryUpToAttempts(t *testing.T) {
	cases := []struct {
		name     string
		failures int
		attempts int
		calls    int
		failed   bool
	}{
		{name: "recovers", failures: 2, attempts: 3, calls: 3},
		{name: "gives up", failures: 5, attempts: 3, calls: 3, failed: true},
		{name: "single attempt", failures: 1, attempts: 0, calls: 1, failed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &flakyPublisher{failures: tc.failures}
			err := Retry(pub, tc.attempts, 0).Publish(context.Background(), "queue_q1", []byte(`{}`))

			if pub.calls != tc.calls {
				t.Fatalf("expected %d calls, got %d", tc.calls, pub.calls)
			}
			if (err != nil) != tc.failed {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	pub := &flakyPublisher{failures: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Retry(pub, 3, time.Hour).Publish(ctx, "queue_q1", []byte(`{}`)); err == nil {
		t.Fatalf("expected the first failure")
	}
	if pub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", pub.calls)
	}
}

func TestFanoutFailingPublisherDoesNotDuplicateHealthyDelivery(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		calls    int
	}{
		{name: "single attempt", attempts: 1, calls: 1},
		{name: "retried webhook", attempts: 3, calls: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			healthy := &recordingPublisher{}
			failing := &flakyPublisher{failures: 10}
			fanout := NewFanout(Multi(healthy, Retry(failing, tc.attempts, 0)), Config{Workers: 1}, zap.New(core))

			fanout.Dispatch(Event{Key: "t1", Type: EventTicketCalled, Groups: []string{"queue_q1"}})
			fanout.Close()

			if got := len(healthy.snapshot()); got != 1 {
				t.Fatalf("healthy publisher received %d copies, want 1", got)
			}
			if failing.calls != tc.calls {
				t.Fatalf("expected %d calls to the failing publisher, got %d", tc.calls, failing.calls)
			}
			if got := logs.FilterMessage("notification delivery failed").Len(); got != 1 {
				t.Fatalf("expected 1 failure log, got %d", got)
			}
		})
	}
}
