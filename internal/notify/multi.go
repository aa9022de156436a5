package notify

import (
	"context"
	"errors"
)

type multiPublisher []Publisher

// Multi publishes to every publisher and joins their errors. Nil publishers
// are skipped.
func Multi(publishers ...Publisher) Publisher {
	var out multiPublisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, group, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
