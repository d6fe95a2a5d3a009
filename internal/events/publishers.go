package events

import (
	"context"
	"errors"
)

// NoopPublisher discards every event. It stands in when no bus is
// configured.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (*NoopPublisher) Close() error { return nil }

// MultiPublisher publishes every event to each of its publishers in turn.
// All publishers are attempted; errors are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
