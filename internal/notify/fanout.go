package notify

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	notificationsSent   = expvar.NewInt("notifications_sent_total")
	notificationsFailed = expvar.NewInt("notifications_failed_total")
)

type Config struct {
	Workers int
	Buffer  int
	Timeout time.Duration
}

// Fanout delivers events on background workers. Events are sharded by key
// so every event of one ticket goes through the same worker in order.
// Each group message is handed to the publisher once; a failure is logged
// and counted.
type Fanout struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	shards []chan Event
	wg     sync.WaitGroup
}

func NewFanout(publisher Publisher, cfg Config, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	f := &Fanout{
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		shards:    make([]chan Event, workers),
	}
	for i := range f.shards {
		f.shards[i] = make(chan Event, buffer)
		f.wg.Add(1)
		go f.run(f.shards[i])
	}
	return f
}

// Dispatch queues event without blocking. A full shard or a closed fanout
// drops the event and records it as a delivery failure.
func (f *Fanout) Dispatch(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.fail(event, "", fmt.Errorf("%w: fanout closed", ErrDeliveryFailed))
		return
	}
	select {
	case f.shards[f.shardFor(event.Key)] <- event:
	default:
		f.fail(event, "", fmt.Errorf("%w: buffer full", ErrDeliveryFailed))
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, shard := range f.shards {
		close(shard)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Fanout) run(events <-chan Event) {
	defer f.wg.Done()
	for event := range events {
		f.deliver(event)
	}
}

func (f *Fanout) deliver(event Event) {
	payload, err := json.Marshal(Envelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.At})
	if err != nil {
		f.fail(event, "", fmt.Errorf("%w: encode: %v", ErrDeliveryFailed, err))
		return
	}

	for _, group := range event.Groups {
		if err := f.publish(group, payload); err != nil {
			f.fail(event, group, fmt.Errorf("%w: %v", ErrDeliveryFailed, err))
			continue
		}
		notificationsSent.Add(1)
	}
}

func (f *Fanout) publish(group string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return f.publisher.Publish(ctx, group, payload)
}

func (f *Fanout) fail(event Event, group string, err error) {
	notificationsFailed.Add(1)
	f.logger.Warn("notification delivery failed",
		zap.String("event", event.Type),
		zap.String("key", event.Key),
		zap.String("group", group),
		zap.Error(err),
	)
}

func (f *Fanout) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(f.shards)))
}
