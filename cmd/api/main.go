package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/marketplace-orders/internal/api"
	"github.com/example/marketplace-orders/internal/app"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/checkout"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/config"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/kafka"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/logger"
	"github.com/example/marketplace-orders/internal/projection"
	"github.com/example/marketplace-orders/internal/query"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting api",
		zap.String("env", cfg.Server.AppEnv),
		zap.String("event_store", cfg.EventStore),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers))

	db, err := app.OpenPostgres(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	readStore := app.ReadStore(db)
	projector := projection.NewProjector(readStore, log)

	// Committed events go to Kafka when brokers are configured and are
	// projected in-process otherwise.
	var publisher store.Publisher = projector
	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = producer
	}

	eventStore, err := app.EventStore(ctx, cfg, db, publisher, log)
	if err != nil {
		return err
	}

	// In-process projection catches up on what was stored while the api was down.
	// Dynamo deployments project from the table stream instead.
	if cfg.EventStore == config.EventStorePostgres && len(cfg.Kafka.Brokers) == 0 {
		if err := projector.Rebuild(ctx, eventStore); err != nil {
			return err
		}
	}

	cartCache, closeCache := app.CartCache(ctx, cfg.Redis, log)
	defer closeCache()
	addresses := app.AddressBook(db)

	policy := pricing.Policy{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		ShippingFee:           cfg.Pricing.ShippingFee,
		PlatformFee:           cfg.Pricing.PlatformFee,
	}
	productSvc := product.NewService(eventStore, log)
	inventorySvc := inventory.NewService(eventStore, log)
	cat := catalog.NewService(productSvc, inventorySvc)
	cartSvc := cart.NewService(eventStore, cat, policy, log)
	orderSvc := order.NewService(eventStore, cfg.Order.ReturnWindow, log)
	materializer := checkout.NewMaterializer(eventStore, cartSvc, orderSvc, inventorySvc, cat, addresses,
		app.PaymentGateway(cfg.Payment, log), log)

	cmdHandler := command.NewHandler(eventStore, productSvc, cartSvc, orderSvc, inventorySvc, materializer, addresses, cartCache, log)
	queryHandler := query.NewHandler(cartSvc, orderSvc, productSvc, materializer, cartCache, readStore, log)
	jwtService := auth.NewJWTService(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.TokenExpiry)

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(cmdHandler, queryHandler, addresses, log),
		JWTService:     jwtService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: 30 * time.Second,
		Logger:         log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	wg.Wait()
	return nil
}
