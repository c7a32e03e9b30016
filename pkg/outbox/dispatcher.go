package outbox

import (
	"context"
	"log/slog"
)

// Publisher delivers one outbox event to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Dispatcher struct {
	log       *slog.Logger
	publisher Publisher
}

func NewDispatcher(log *slog.Logger, publisher Publisher) *Dispatcher {
	return &Dispatcher{log: log, publisher: publisher}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "type", event.Type, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "type", event.Type)
	return nil
}
