package realtime

import (
	"context"
	"errors"
)

// Fanout publishes every event to all of its publishers, in order.
type Fanout []Publisher

// PublishToUser implements Publisher.
func (f Fanout) PublishToUser(ctx context.Context, userID, event string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishToUser(ctx, userID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishToGroup implements Publisher.
func (f Fanout) PublishToGroup(ctx context.Context, groupID, event string, payload any) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishToGroup(ctx, groupID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = (*KafkaMirror)(nil)
	_ Publisher = Fanout(nil)
)
