package notify

import (
	"context"
	"expvar"
	"time"
)

var notificationsRetried = expvar.NewInt("notifications_retried_total")

type retryPublisher struct {
	next     Publisher
	attempts int
	delay    time.Duration
}

// Retry tries next up to attempts times, waiting delay, 2*delay, ... between
// tries. It wraps a single publisher, never a Multi, so a retry cannot
// repeat a delivery that already succeeded elsewhere. With attempts <= 1 it
// returns next unchanged.
func Retry(next Publisher, attempts int, delay time.Duration) Publisher {
	if attempts <= 1 {
		return next
	}
	return &retryPublisher{next: next, attempts: attempts, delay: delay}
}

func (r *retryPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			notificationsRetried.Add(1)
			timer := time.NewTimer(time.Duration(attempt-1) * r.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		if err = r.next.Publish(ctx, group, payload); err == nil {
			return nil
		}
	}
	return err
}
