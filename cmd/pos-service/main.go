package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/POS-Sale-System/internal/config"
	inventory "github.com/dmehra2102/POS-Sale-System/internal/inventory/application"
	inventoryhttp "github.com/dmehra2102/POS-Sale-System/internal/inventory/infrastructure/http"
	loyalty "github.com/dmehra2102/POS-Sale-System/internal/loyalty/application"
	loyaltydomain "github.com/dmehra2102/POS-Sale-System/internal/loyalty/domain"
	loyaltyhttp "github.com/dmehra2102/POS-Sale-System/internal/loyalty/infrastructure/http"
	"github.com/dmehra2102/POS-Sale-System/internal/sale/application"
	salehttp "github.com/dmehra2102/POS-Sale-System/internal/sale/infrastructure/http"
	"github.com/dmehra2102/POS-Sale-System/internal/storage"
	"github.com/dmehra2102/POS-Sale-System/pkg/httpjson"
	"github.com/dmehra2102/POS-Sale-System/pkg/idempotency"
	"github.com/dmehra2102/POS-Sale-System/pkg/logging"
	"github.com/dmehra2102/POS-Sale-System/pkg/outbox"
	"github.com/dmehra2102/POS-Sale-System/pkg/shutdown"
	"github.com/dmehra2102/POS-Sale-System/pkg/tracing"
)

func main() {
	cfg, err := config.Load("pos-service")
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

	// Redis is optional: without it Idempotency-Key is ignored
	var idem *idempotency.Store
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, idempotency keys disabled", "addr", cfg.RedisAddr, "err", err)
	} else {
		idem = idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		log.Error("outbox publisher init failed", "broker", cfg.OutboxBroker, "err", err)
		os.Exit(1)
	}
	defer closePublisher()
	relay := outbox.NewRelay(log, backend.Outbox, outbox.NewDispatcher(log, publisher), cfg.AppName+"-relay")

	stockLedger := inventory.NewLedger()
	loyaltyLedger := loyalty.NewLedger(loyaltydomain.AccrualPolicy{Rate: cfg.AccrualRate()}, backend.Loyalty)
	orchestrator := application.NewOrchestrator(log, backend.Sales, backend.SaleReader, stockLedger, loyaltyLedger, cfg.Calculator(), cfg.TxPolicy())
	stockService := inventory.NewService(log, backend.Stock, backend.StockReader, stockLedger, cfg.TxPolicy())

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	salehttp.NewHandler(log, orchestrator, idem).Register(r)
	inventoryhttp.NewHandler(log, stockService).Register(r)
	loyaltyhttp.NewHandler(log, loyaltyLedger).Register(r)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "storage", cfg.Storage, "broker", cfg.OutboxBroker)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("pos-service shutdown complete")
}

func newPublisher(cfg config.Config) (outbox.Publisher, func(), error) {
	if cfg.OutboxBroker == "rabbitmq" {
		conn, ch, err := outbox.DialAMQP(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, nil, err
		}
		return outbox.NewAMQPPublisher(ch, cfg.RabbitMQExchange), func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	}

	writer := outbox.NewKafkaWriter(cfg.Brokers())
	return outbox.NewKafkaPublisher(writer, cfg.OutboxTopic), func() { _ = writer.Close() }, nil
}
