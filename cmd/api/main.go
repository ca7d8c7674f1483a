package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ariefcatur/go-storefront/internal/adminauth"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/checkout"
	"github.com/ariefcatur/go-storefront/internal/config"
	"github.com/ariefcatur/go-storefront/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/logx"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/ariefcatur/go-storefront/internal/ratelimit"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/ariefcatur/go-storefront/internal/stockwatch"
	"github.com/ariefcatur/go-storefront/internal/storage"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logx.Setup(cfg.LogLevel, cfg.ServiceName)
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	if err := redisx.Ping(ctx, rdb); err != nil {
		// cache, dedup and the redis limiter all degrade without it
		log.Warn("redis unavailable", "addr", cfg.RedisAddr, "error", err)
	}

	// Kafka producers
	orderProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	orderProd.Start(ctx)
	lowProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicLowStock, 256)
	lowProd.Start(ctx)

	// Image store
	objects, err := storage.OpenJetStream(ctx, cfg.NATSURL, cfg.ImageBucket)
	if err != nil {
		log.Error("object store", "url", cfg.NATSURL, "bucket", cfg.ImageBucket, "error", err)
		os.Exit(1)
	}
	images := storage.NewImages(objects, cfg.PublicBaseURL)

	// Domain
	catalogRepo := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	cache := catalog.NewCache(catalogRepo, rdb, cfg.CatalogCacheTTL)

	policy, err := checkout.ParsePolicy(cfg.CheckoutPolicy)
	if err != nil {
		log.Error("checkout policy", "error", err)
		os.Exit(1)
	}
	checkoutSvc := checkout.NewService(catalogRepo, orderRepo, policy)
	checkoutSvc.Logger = log.With("component", "checkout")

	board := &stockwatch.Service{
		Stock:       catalogRepo,
		Redis:       rdb,
		Publisher:   lowProd,
		Threshold:   cfg.LowStockThreshold,
		ServiceName: cfg.ServiceName,
		Log:         log.With("component", "stockwatch"),
	}

	sessions := adminauth.NewSessions(cfg.AdminPassword, cfg.AdminSessionTTL)
	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD is empty, admin login is disabled")
	}

	// Rate limits
	limiters := newLimiters(ctx, cfg, rdb)
	clientID := ratelimit.ClientIP(cfg.ClientIPHeader)

	router := httpx.NewRouter(
		&httpx.CatalogHandler{Products: cache, Search: catalogRepo, Log: log},
		&httpx.CheckoutHandler{
			Checkout:  checkoutSvc,
			Cache:     cache,
			Publisher: orderProd,
			Service:   cfg.ServiceName,
			Log:       log,
			Limit:     ratelimit.Middleware(limiters.checkout, "checkout", clientID),
		},
		&httpx.AdminHandler{
			Sessions:   sessions,
			Catalog:    catalogRepo,
			Orders:     orderRepo,
			Images:     images,
			LowStock:   board,
			Cache:      cache,
			Log:        log,
			LoginLimit: ratelimit.Middleware(limiters.login, "admin_login", clientID),
			MutationLimit: func(tag string) func(http.Handler) http.Handler {
				return ratelimit.Middleware(limiters.admin, tag, clientID)
			},
		},
		&httpx.ImagesHandler{Images: images, Log: log},
	)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "checkout_policy", policy, "rate_limit_backend", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"storefront-api": func(sctx context.Context) error {
			log.Info("shutting down...")
			err := srv.Shutdown(sctx)
			// flush pending events before the writers go away
			orderProd.Close()
			lowProd.Close()
			cancel()
			orderProd.WaitClosed()
			lowProd.WaitClosed()
			objects.Close()
			_ = rdb.Close()
			db.Close()
			return err
		},
	})
	os.Exit(<-wait)
}

type limiterSet struct {
	checkout, admin, login ratelimit.Limiter
}

func newLimiters(ctx context.Context, cfg config.Config, rdb *redis.Client) limiterSet {
	if cfg.RateLimitBackend == "redis" {
		return limiterSet{
			checkout: ratelimit.NewRedisWindow(rdb, cfg.CheckoutLimit.Max, cfg.CheckoutLimit.Window),
			admin:    ratelimit.NewRedisWindow(rdb, cfg.AdminLimit.Max, cfg.AdminLimit.Window),
			login:    ratelimit.NewRedisWindow(rdb, cfg.LoginLimit.Max, cfg.LoginLimit.Window),
		}
	}
	set := limiterSet{}
	for _, w := range []struct {
		dst *ratelimit.Limiter
		l   config.Limit
	}{
		{&set.checkout, cfg.CheckoutLimit},
		{&set.admin, cfg.AdminLimit},
		{&set.login, cfg.LoginLimit},
	} {
		win := ratelimit.NewWindow(w.l.Max, w.l.Window)
		go win.Run(ctx, w.l.Window)
		*w.dst = win
	}
	return set
}
