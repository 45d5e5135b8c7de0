package main

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/marketplace-orders/internal/app"
	"github.com/example/marketplace-orders/internal/config"
	"github.com/example/marketplace-orders/internal/infrastructure/kinesis"
	"github.com/example/marketplace-orders/internal/logger"
	"github.com/example/marketplace-orders/internal/projection"
	"go.uber.org/zap"
)

var (
	projector *projection.Projector
	log       *zap.Logger
)

func init() {
	cfg := config.LoadEnv()
	var err error
	log, err = logger.New(cfg.Logger)
	if err != nil {
		panic(err)
	}
	if cfg.Postgres.URL == "" {
		log.Fatal("init failed", zap.Error(errors.New("DATABASE_URL is required")))
	}

	// Schema changes are applied by the api, not on every cold start
	cfg.Postgres.Migrate = false
	db, err := app.OpenPostgres(context.Background(), cfg.Postgres, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	projector = projection.NewProjector(app.ReadStore(db), log)
	log.Info("lambda projector initialized")
}

func handler(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
	resp, errs := kinesis.Process(ctx, batch, projector.Project)
	for _, err := range errs {
		log.Error("record failed", zap.Error(err))
	}
	log.Info("batch processed",
		zap.Int("records", len(batch.Records)),
		zap.Int("failed", len(resp.BatchItemFailures)))
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
