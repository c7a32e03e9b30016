// Package storage selects the backend shared by every context.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	invapp "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	loyaltyapp "github.com/dmehra2102/POS-Sale-System/internal/loyalty/application"
	saleapp "github.com/dmehra2102/POS-Sale-System/internal/sale/application"
	"github.com/dmehra2102/POS-Sale-System/internal/storage/memory"
	"github.com/dmehra2102/POS-Sale-System/internal/storage/postgres"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
)

type Backend struct {
	Sales       saleapp.TxManager
	SaleReader  saleapp.Reader
	Stock       invapp.TxManager
	StockReader invapp.Reader
	Loyalty     loyaltyapp.Reader
	Outbox      outbox.Store

	close func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open returns the backend for kind: "postgres" connects to url and
// bootstraps the schema, "memory" starts from the demo catalog.
func Open(ctx context.Context, log *slog.Logger, kind, url string) (*Backend, error) {
	switch kind {
	case "memory":
		s := memory.NewSeeded()
		log.Warn("using in-memory storage, data is lost on exit")
		return &Backend{Sales: s, SaleReader: s, Stock: s, StockReader: s, Loyalty: s, Outbox: s}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("pg connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pg ping: %w", err)
		}
		s := postgres.NewStore(log, pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pg schema: %w", err)
		}
		return &Backend{
			Sales:       s,
			SaleReader:  s,
			Stock:       s,
			StockReader: s,
			Loyalty:     s,
			Outbox:      postgres.NewOutboxStore(log, pool),
			close:       pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", kind)
	}
}
