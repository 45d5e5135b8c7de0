// Package app wires configuration into the stores and services the
// binaries share.
package app

import (
	"context"
	"database/sql"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/config"
	"github.com/example/marketplace-orders/internal/infrastructure/cache"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenPostgres connects and, when enabled, applies the embedded migrations.
// It returns nil when no DATABASE_URL is configured.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := store.ConnectPostgres(ctx, cfg.URL, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Migrate {
		if err := store.RunMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}
	return db, nil
}

// EventStore builds the configured event store. The memory and Postgres
// stores forward committed events to publisher; the Dynamo store relies on
// the table stream instead.
func EventStore(ctx context.Context, cfg *config.Config, db *sql.DB, publisher store.Publisher, logger *zap.Logger) (store.EventStoreInterface, error) {
	switch cfg.EventStore {
	case config.EventStorePostgres:
		return store.NewPostgresEventStore(db, publisher, logger), nil
	case config.EventStoreDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return store.NewDynamoEventStore(dynamodb.NewFromConfig(awsCfg), cfg.Dynamo.EventsTable, cfg.Dynamo.SnapshotsTable, logger), nil
	default:
		return store.NewEventStore(publisher, logger), nil
	}
}

func ReadStore(db *sql.DB) store.OrderReadStore {
	if db == nil {
		return store.NewReadStore()
	}
	return store.NewPostgresReadStore(db)
}

func AddressBook(db *sql.DB) address.Book {
	if db == nil {
		return address.NewMemoryBook()
	}
	return address.NewPostgresBook(sqlx.NewDb(db, "postgres"))
}

// CartCache returns a Redis cache when REDIS_ADDR is set and the server
// answers, and a no-op cache otherwise.
func CartCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (cache.CartCache, func() error) {
	if cfg.Addr == "" {
		return cache.Noop{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, cart cache disabled", zap.String("addr", cfg.Addr), zap.Error(err))
		client.Close()
		return cache.Noop{}, func() error { return nil }
	}
	return cache.NewRedisCache(client, cfg.TTL, cfg.Jitter), client.Close
}

// PaymentGateway is the simulated gateway behind a circuit breaker
func PaymentGateway(cfg config.PaymentConfig, logger *zap.Logger) payment.Gateway {
	var decider payment.Decider = payment.ApproveAll{}
	if cfg.ApprovalRate < 100 {
		decider = payment.RandomDecider{ApprovalRate: cfg.ApprovalRate}
	}
	return payment.NewBreakerGateway(payment.NewSimulatedGateway(decider), payment.BreakerSettings{
		Name:             "payment-gateway",
		Timeout:          cfg.BreakerTimeout,
		FailureThreshold: uint32(max(cfg.FailureThreshold, 1)),
		CallTimeout:      cfg.CallTimeout,
	}, logger)
}
