package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/POS-Sale-System/internal/config"
	"github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	inventoryKafka "github.com/dmehra2102/POS-Sale-System/internal/inventory/infrastructure/kafka"
	"github.com/dmehra2102/POS-Sale-System/internal/storage"
	"github.com/dmehra2102/POS-Sale-System/pkg/idempotency"
	"github.com/dmehra2102/POS-Sale-System/pkg/logging"
	"github.com/dmehra2102/POS-Sale-System/pkg/shutdown"
	"github.com/dmehra2102/POS-Sale-System/pkg/tracing"
)

func main() {
	cfg, err := config.Load("inventory-service")
	if err != nil {
		slog.Error("config invalid", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", cfg.AppName)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.AppName, cfg.OTelEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	backend, err := storage.Open(ctx, log, cfg.Storage, cfg.PGURL)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)

	svc := application.NewService(log, backend.Stock, backend.StockReader, application.NewLedger(), cfg.TxPolicy())
	reader := inventoryKafka.NewReader(cfg.Brokers(), cfg.InventoryTopic, cfg.InventoryGroup)
	consumer := inventoryKafka.NewConsumer(log, reader, svc, idem, cfg.TxPolicy())

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	log.Info("consuming stock receipts", "topic", cfg.InventoryTopic, "group", cfg.InventoryGroup)
	<-ctx.Done()
	log.Info("inventory-service shutdown")
}
