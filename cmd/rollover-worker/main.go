// Package main is the entrypoint for the rollover worker Lambda function.
//
// The worker runs shortly after each UTC month boundary via an EventBridge
// rule. It retires expired prepaid packs and sweeps the tenant population for
// downgrade suggestions. All business logic lives in internal/scheduler; this
// file handles dependency wiring on cold start.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"metergate/internal/billing"
	"metergate/internal/catalog"
	"metergate/internal/config"
	"metergate/internal/events"
	"metergate/internal/scheduler"
	"metergate/internal/store"
	"metergate/internal/types"
)

// RolloverInput is the EventBridge invocation payload. DryRun skips the
// expired-pack retirement so the sweep can be rehearsed against production
// data.
type RolloverInput struct {
	DryRun bool `json:"dry_run"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("rollover worker initializing (cold start)")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	cat, err := catalog.LoadJSON(cfg.Catalog.OverrideJSON)
	if err != nil {
		logger.Error("failed to load plan catalog", "error", err.Error())
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err.Error())
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err.Error())
		os.Exit(1)
	}
	st := store.NewPG(pool)

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	var awsCfg aws.Config
	if awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...); err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}

	clock := types.RealClock{}
	publisher := events.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.EventsQueue, clock, logger)

	// The worker never bumps tiers, so no Stripe client is wired here.
	manager := billing.NewManager(st, cat, publisher, nil, clock, logger)
	job := scheduler.NewRollover(st, manager, clock, logger,
		cfg.Jobs.TenantPageSize, cfg.Jobs.WorkerPoolSize, cfg.Jobs.AuditKeepMonths)

	logger.Info("rollover worker initialized",
		"tenant_page_size", cfg.Jobs.TenantPageSize,
		"worker_pool_size", cfg.Jobs.WorkerPoolSize,
		"audit_keep_months", cfg.Jobs.AuditKeepMonths,
	)

	lambda.Start(newHandler(job, logger))
}

func newHandler(job *scheduler.Rollover, logger *slog.Logger) func(ctx context.Context, input RolloverInput) (scheduler.RolloverSummary, error) {
	return func(ctx context.Context, input RolloverInput) (scheduler.RolloverSummary, error) {
		logger.InfoContext(ctx, "rollover handler invoked", "dry_run", input.DryRun)

		if input.DryRun {
			logger.InfoContext(ctx, "dry run requested, skipping")
			return scheduler.RolloverSummary{}, nil
		}

		summary, err := job.Run(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "rollover run failed", "error", err.Error())
			return summary, err
		}
		return summary, nil
	}
}
