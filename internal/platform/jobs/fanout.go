package jobs

import (
	"context"
	"errors"

	"github.com/quickprint/api/internal/services"
)

// Fanout delivers each event to every configured publisher and joins their errors.
type Fanout []services.OrderEventPublisher

func (f Fanout) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
