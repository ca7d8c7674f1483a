package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/config"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/logx"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/ariefcatur/go-storefront/internal/stockwatch"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logx.Setup(cfg.LogLevel, cfg.ServiceName+"-stockwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)

	// Producer: low stock alerts
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicLowStock, 256)
	prod.Start(ctx)

	svc := &stockwatch.Service{
		Stock:       &catalog.Repo{DB: db},
		Redis:       rdb,
		Publisher:   prod,
		Threshold:   cfg.LowStockThreshold,
		ServiceName: cfg.ServiceName + "-stockwatch",
		Log:         log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, orders.TopicOrderPlaced, cfg.StockwatchWorkers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("stockwatch consumer started",
			"group", cfg.StockwatchGroup, "topic", orders.TopicOrderPlaced,
			"workers", cfg.StockwatchWorkers, "threshold", cfg.LowStockThreshold)
		if err := cons.Start(ctx, svc.HandleOrderPlaced); err != nil {
			log.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"stockwatch": func(sctx context.Context) error {
			log.Info("shutting down consumer...")
			cancel()
			select {
			case <-done:
			case <-sctx.Done():
				return sctx.Err()
			}
			prod.Close()
			prod.WaitClosed()
			_ = rdb.Close()
			db.Close()
			return nil
		},
	})
	os.Exit(<-wait)
}
