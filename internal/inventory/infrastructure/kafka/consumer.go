package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/domain"
	"github.com/dmehra2102/POS-Sale-System/pkg/idempotency"
	"github.com/dmehra2102/POS-Sale-System/pkg/tracing"
	"github.com/dmehra2102/POS-Sale-System/pkg/txn"
)

// StockReceived is a stock inflow published by purchasing or returns desks.
type StockReceived struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Recorder interface {
	Record(ctx context.Context, c application.Change) (int, error)
}

type Consumer struct {
	log    *slog.Logger
	reader MessageReader
	svc    Recorder
	idem   *idempotency.Store
	policy txn.Policy
	tracer trace.Tracer
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

// NewConsumer builds a consumer that retries transient failures of a message
// in place according to policy.
func NewConsumer(log *slog.Logger, reader MessageReader, svc Recorder, idem *idempotency.Store, policy txn.Policy) *Consumer {
	return &Consumer{
		log:    log,
		reader: reader,
		svc:    svc,
		idem:   idem,
		policy: policy,
		tracer: otel.Tracer("inventory-consumer"),
	}
}

// Run consumes until ctx is cancelled or a message cannot be processed. A
// message is committed once it has an outcome: applied, duplicate or
// rejected for good. When transient failures outlast the retry policy, Run
// returns without committing so the group redelivers the message.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stock receipt at offset %d not applied: %w", msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process applies msg unless its offset is already marked. The mark is
// written only after the outcome is final.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)

	var done bool
	if err := c.retry(ctx, "idempotency check", func() (err error) {
		done, err = c.idem.Processed(ctx, key)
		return err
	}); err != nil {
		return err
	}
	if done {
		c.log.Info("duplicate message skipped", "key", key)
		return nil
	}

	if err := c.retry(ctx, "apply", func() error { return c.handle(ctx, msg) }); err != nil {
		return err
	}
	return c.retry(ctx, "mark", func() error { return c.idem.Mark(ctx, key) })
}

func (c *Consumer) retry(ctx context.Context, step string, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.policy.BackOff()),
		backoff.WithMaxTries(max(c.policy.MaxAttempts, 1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn("retrying stock receipt", "step", step, "err", err, "wait", wait)
		}),
	)
	return err
}

// handle returns an error only when trying again may succeed. Malformed and
// rejected receipts are logged and count as done.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeStockReceived")
	defer span.End()

	var ev StockReceived
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "offset", msg.Offset, "err", err)
		span.SetStatus(codes.Error, "malformed message")
		return nil
	}
	if ev.Kind == "" {
		ev.Kind = string(domain.MovementPurchase)
	}
	kind, err := domain.ParseMovementKind(ev.Kind)
	if err != nil {
		c.log.Warn("stock receipt rejected", "product_id", ev.ProductID, "err", err)
		return nil
	}

	level, err := c.svc.Record(msgCtx, application.Change{
		ProductID: ev.ProductID,
		Kind:      kind,
		Quantity:  ev.Quantity,
		Reference: ev.Reference,
		Reason:    ev.Reason,
	})
	switch {
	case err == nil:
		c.log.Info("stock receipt applied", "product_id", ev.ProductID, "kind", kind, "quantity", ev.Quantity, "stock", level)
		return nil
	case application.IsPermanent(err):
		c.log.Warn("stock receipt rejected", "product_id", ev.ProductID, "err", err)
		return nil
	default:
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("stock receipt failed", "product_id", ev.ProductID, "traceparent", tracing.HeaderValue(msg.Headers, tracing.TraceparentHeader), "err", err)
		return err
	}
}
