package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"qms/dispatch-service/internal/notify"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRelayForwardsRedisMessages(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is required for redis tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	prefix := "test:" + uuid.NewString() + ":"
	h := New(nil)
	c := NewClient("c", 4)
	h.Register(c)
	h.Join(c, "department_1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Relay(ctx, client, prefix, h, nil) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	pub := notify.NewRedisPublisher(client, prefix)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Publish until the subscription is live; PSUBSCRIBE is asynchronous.
		if err := pub.Publish(context.Background(), "department_1", []byte(`{"type":"ticket.called"}`)); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case msg := <-c.Send:
			if string(msg) != `{"type":"ticket.called"}` {
				t.Fatalf("unexpected payload %s", msg)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("message was not relayed")
		}
	}
}
